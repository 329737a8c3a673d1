package domain

// KeyPrefix namespaces every key and index the engine writes to the store.
const KeyPrefix = "lapidary:"
