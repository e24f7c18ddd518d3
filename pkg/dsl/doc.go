/*
Package dsl provides a Go DSL for building machine definitions in code.

It is an alternative to JSON or YAML documents when a flow is generated, embedded in a test or
assembled from other Go values. The builder produces plain domain.Definition values and can hand
them over as an in-memory definition store.

Example usage:

	b := dsl.New("ivr_demo").Initial("new_call").Terminal("call_ended")

	b.Transition("startCall").From("new_call").To("main_menu").
		Do(dsl.ARI("answer", nil))

	b.Transition("input_1").From("main_menu").To("sales").
		Do(dsl.Set("department", "sales"))

	b.Transition("disconnect").FromAny().To("call_ended")

	b.State("main_menu").OnEntry(dsl.ARI("playAudio", map[string]any{"media": "sound:menu"}))

	store, err := b.Store()
	// ... pass store to registry.New(...)
*/
package dsl
