package compiler_test

import (
	"testing"

	"github.com/aretw0/switchboard/internal/compiler"
	"github.com/aretw0/switchboard/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const yamlDoc = `
id: ivr_demo
initial: new_call
transitions:
  - name: startCall
    from: new_call
    to: main_menu
    actions:
      - type: controlProtocol
        operation: playAudio
        params: { media: "sound:welcome" }
  - { name: input_1, from: [main_menu, lookup], to: lookup }
  - { name: disconnect, from: "*", to: call_ended }
states:
  lookup:
    onEntry:
      - type: http
        request: customer
        storeResponseAs: customer
        onSuccess: found
      - type: externalApi
        request: { url: "http://crm/{{fsm.callerId}}", timeout: 1500 }
scripts:
  enter: { main_menu: 'fsm.visits = 1' }
externalApis:
  customer: { url: "https://crm/{{fsm.callerId}}", method: GET, timeout: 5000 }
ariActions:
  greet: { operation: playAudio, params: { media: "sound:hello" } }
`

func TestParse_YAML(t *testing.T) {
	def, err := compiler.NewParser().Parse("ivr_demo", []byte(yamlDoc))
	require.NoError(t, err)

	assert.Equal(t, "ivr_demo", def.ID)
	assert.Equal(t, "new_call", def.Initial)
	require.Len(t, def.Transitions, 3)
	assert.Equal(t, []string{"new_call"}, def.Transitions[0].From)
	assert.Equal(t, []string{"main_menu", "lookup"}, def.Transitions[1].From)
	assert.True(t, def.Transitions[2].IsWildcard())

	start := def.Transitions[0].Actions[0]
	assert.Equal(t, domain.ActionControl, start.Type)
	assert.Equal(t, "sound:welcome", start.Params["media"])

	entry := def.States["lookup"].OnEntry
	require.Len(t, entry, 2)
	assert.Equal(t, domain.ActionExternalAPI, entry[0].Type)
	assert.Equal(t, "customer", entry[0].Request.Name)
	assert.Nil(t, entry[0].Request.Inline)
	require.NotNil(t, entry[1].Request.Inline)
	assert.Equal(t, 1500, entry[1].Request.Inline.Timeout)
	assert.Equal(t, "inline_action", entry[1].Request.Label())

	assert.Equal(t, "fsm.visits = 1", def.Scripts.Enter["main_menu"])
	assert.Equal(t, 5000, def.ExternalAPIs["customer"].Timeout)
	assert.Equal(t, "playAudio", def.ARIActions["greet"].Operation)
}

func TestParse_JSON(t *testing.T) {
	doc := `{
		"id": "json_ivr",
		"initial": "idle",
		"transitions": [{"name": "go", "from": "idle", "to": "busy",
			"actions": [{"type": "assign", "field": "count", "value": 1}]}],
		"externalApis": {"x": {"url": "http://x", "timeout": 2500}}
	}`
	def, err := compiler.NewParser().Parse("json_ivr", []byte(doc))
	require.NoError(t, err)

	assert.Equal(t, domain.ActionSet, def.Transitions[0].Actions[0].Type)
	assert.Equal(t, float64(1), def.Transitions[0].Actions[0].Value)
	assert.Equal(t, 2500, def.ExternalAPIs["x"].Timeout)
}

func TestParse_StoreKeyWins(t *testing.T) {
	def, err := compiler.NewParser().Parse("from_file", []byte(`{"id": "declared", "initial": "a", "transitions": []}`))
	require.NoError(t, err)
	assert.Equal(t, "from_file", def.ID)

	def, err = compiler.NewParser().Parse("", []byte(`{"id": "declared", "initial": "a"}`))
	require.NoError(t, err)
	assert.Equal(t, "declared", def.ID)
}

func TestParse_UnknownTypeIsKept(t *testing.T) {
	def, err := compiler.NewParser().Parse("x", []byte(`{"initial": "a", "transitions": [{"name": "t", "from": "a", "to": "b", "actions": [{"type": "eval"}]}]}`))
	require.NoError(t, err)
	assert.Equal(t, domain.ActionType("eval"), def.Transitions[0].Actions[0].Type)
}

func TestParse_Malformed(t *testing.T) {
	tests := map[string]string{
		"empty":       "   ",
		"bad json":    `{"id": `,
		"bad yaml":    "id: [unclosed",
		"wrong shape": `{"transitions": "nope"}`,
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := compiler.NewParser().Parse("broken", []byte(doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrInvalidDefinition)
		})
	}
}
