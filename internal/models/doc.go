// Package models defines the core domain models for the receipt splitter.
//
// # Models
//
//   - Group: a set of members sharing expenses
//   - Member: a participant in a group, optionally linked to a registered User
//   - Receipt: one purchase event with line items and per-item assignments
//   - Item: a single line item on a receipt
//   - Assignment: the rule by which one item's cost is attributed to members
//   - Payment: money handed from one member to another to settle up
//   - User: a registered account
//
// # Design Principles
//
//  1. **Money is decimal**: all amounts use decimal.Decimal, never float64
//  2. **Avoid circular references**: relationships use ID strings, not pointers
//  3. **Unassigned means absent**: an item without an entry in the assignment
//     map is unassigned; there is no placeholder value
//  4. **Derived data is not stored**: balances are recomputed from receipts
//     on every request (see package calculator)
package models
