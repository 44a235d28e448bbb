// Package firestore is a client for a Firestore-shaped document database.
//
// A Client hands out immutable references and queries, serves reads from the
// transport or from its snapshot cache, and dispatches real-time listener
// updates. Storage and networking live behind the Transport interface; see
// pkg/transport for the in-memory, MongoDB and remote implementations.
//
//	client, err := firestore.New(ctx, firestore.Config{ProjectID: "demo"}, memory.New())
//	users, _ := client.Collection("users")
//	ada, _ := users.Doc("alovelace")
//	err = ada.Set(ctx, map[string]interface{}{"name": "Ada", "age": 30})
//	snap, err := users.Where("age", ">=", 18).OrderBy("age", firestore.Asc).Get(ctx)
package firestore
