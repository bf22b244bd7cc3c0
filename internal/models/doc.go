// Package models defines the domain models shared by the Kettle ledger,
// the device-local caches and the reference server.
//
// # Rooms and entries
//
// A room is a shared ledger. Members record entries against it:
//   - Expense (positive amount): the payer fronted money, split equally among
//     the participant set, or among every current member when the set is nil.
//   - Loan (negative amount): the payer borrowed abs(amount) from every other
//     current member equally.
//
// # Identifiers
//
// Entries that have been persisted carry a PersistedID issued by the server.
// Entries that are still waiting in the outbox carry a TempID generated on
// the device. Both satisfy EntryID, so code that needs a server id (deleting
// an entry) can ask for PersistedID and reject temporary ids at compile time.
//
// # Device-local state
//
//   - RoomSnapshot: last known room state plus derived balances
//   - OutboxRequest: a mutating HTTP request waiting to be replayed
package models
