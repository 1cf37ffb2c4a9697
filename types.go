package taproot

import "github.com/jward/taproot/internal/store"

// Public type aliases for internal store types. These are Go type aliases
// (=) — identical to the internal types at compile time. External consumers
// use these names; no conversion is needed.

type Store = store.Store
type File = store.File
type PartialPathRow = store.PartialPathRow
