// Package catalog defines the item, change and run records shared by the
// reconciliation cycle, the state store and the notification layer.
//
// Nothing here talks to storage or the network. Values are plain structs so
// they can be copied freely between stages.
package catalog
