package stores_test

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/openfroyo/froyo-agent/pkg/stores"
)

// ExampleNewSQLiteStore demonstrates creating and initializing a registry.
func ExampleNewSQLiteStore() {
	store, err := stores.NewSQLiteStore(stores.Config{Path: stores.MemoryPath})
	if err != nil {
		log.Fatal(err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		log.Fatal(err)
	}
	if err := store.Migrate(ctx); err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	fmt.Println("Store initialized successfully")
	// Output: Store initialized successfully
}

// ExampleSQLiteStore_Transition demonstrates a logged state change.
func ExampleSQLiteStore_Transition() {
	store, _ := stores.NewSQLiteStore(stores.Config{Path: stores.MemoryPath})
	ctx := context.Background()
	_ = store.Init(ctx)
	_ = store.Migrate(ctx)
	defer store.Close()

	now := time.Now()
	m := &stores.Module{
		Location:    "file:///bundles/demo-1.0.0.yaml",
		Name:        "org.example.demo",
		Version:     "1.0.0",
		State:       "installed",
		InstalledAt: now,
		UpdatedAt:   now,
	}
	if err := store.CreateModule(ctx, m); err != nil {
		log.Fatal(err)
	}

	err := store.Transition(ctx, m.ID, "active", true, &stores.Event{
		ModuleID:  m.ID,
		Module:    "org.example.demo@1.0.0",
		Action:    stores.EventActionStart,
		FromState: "installed",
		ToState:   "active",
	})
	if err != nil {
		log.Fatal(err)
	}

	events, _ := store.ListEvents(ctx, &m.ID, 10, 0)
	fmt.Printf("%s %s->%s\n", events[0].Action, events[0].FromState, events[0].ToState)
	// Output: start installed->active
}
