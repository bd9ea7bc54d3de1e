package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender(t *testing.T) {
	tmpl := &Template{Body: "Hi {{name}}, your balance is {{ amount }}."}

	t.Run("AllVariablesProvided", func(t *testing.T) {
		out := tmpl.Render(map[string]string{"name": "Ada", "amount": "42.00"})
		assert.Equal(t, "Hi Ada, your balance is 42.00.", out)
	})

	t.Run("MissingVariableKeptInPlace", func(t *testing.T) {
		out := tmpl.Render(map[string]string{"name": "Ada"})
		assert.Equal(t, "Hi Ada, your balance is {{ amount }}.", out)
	})

	t.Run("NilVars", func(t *testing.T) {
		out := tmpl.Render(nil)
		assert.Equal(t, tmpl.Body, out)
	})

	t.Run("NoPlaceholders", func(t *testing.T) {
		plain := &Template{Body: "Office hours are 9 to 5."}
		assert.Equal(t, plain.Body, plain.Render(map[string]string{"name": "Ada"}))
	})
}

func TestPlaceholders(t *testing.T) {
	tmpl := &Template{Body: "{{greeting}} {{name}}, see {{name}} at {{location.city}}"}
	assert.Equal(t, []string{"greeting", "name", "location.city"}, tmpl.Placeholders())

	empty := &Template{Body: "no placeholders here"}
	assert.Empty(t, empty.Placeholders())
}
