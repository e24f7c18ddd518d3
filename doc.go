/*
Package switchboard is a data-driven call-flow runtime: finite state machines described in JSON or YAML
definitions drive telephony sessions and external integrations.

Each definition declares states, named transitions and the actions that run around them (HTTP calls to
external APIs, Asterisk ARI call control, field assignments, logging). Actions may reference live data
through {{fsm.field}} and {{payload.field}} placeholders, and optional tengo scripts run on state entry,
transition and state exit.

# Concept

Definitions live in a store (a directory of files, a loam vault, Redis or memory). The registry compiles
each definition once into a reusable machine and hands out fresh instances. Live calls are bound to their
own instance by the session router, which translates telephony events into transitions. The same runtime
is exposed over HTTP, MCP and the switchboard CLI.

# Usage

	store := file.New("./fsm_definitions")
	reg := registry.New(store)
	rt := switchboard.New(reg)

	res, err := rt.Fire(ctx, switchboard.FireRequest{
		MachineID:    "ari_example_ivr",
		Transition:   "input_1",
		CurrentState: "main_menu",
		Payload:      map[string]any{"digit": "1"},
	})
	if err != nil {
		var refused *domain.TransitionRefusedError
		if errors.As(err, &refused) {
			log.Printf("refused: %v", err)
		}
		return err
	}
	log.Println("now in", res.NewState)
*/
package switchboard
