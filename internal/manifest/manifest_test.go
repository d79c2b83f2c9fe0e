package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	binderyv1alpha1 "github.com/bayleafwalker/bindery-runtime/api/v1alpha1"
)

const restaurant = `
module "payments" {
  version = "1.4.0"
}

module "pos" {
  version               = "1.2.0"
  description           = "Point of sale"
  required_capabilities = ["pos_system"]
  optional_capabilities = ["loyalty_program"]
  depends_on            = ["payments"]
  version_constraints   = { payments = "^1.0.0" }
  remote                = var.remote

  slot "dashboard" {
    contribution          = "pos-widget"
    required_capabilities = ["pos_system"]
    priority              = 10
  }

  slot "header" {
    contribution = "pos-button"
  }
}
`

func TestParse(t *testing.T) {
	mods, err := NewParser(map[string]string{"remote": "shell"}).Parse([]byte(restaurant), "restaurant.hcl")
	require.NoError(t, err)
	require.Len(t, mods, 2)

	assert.Equal(t, &binderyv1alpha1.Module{ID: "payments", Version: "1.4.0"}, mods[0])

	pos := mods[1]
	assert.Equal(t, "pos", pos.ID)
	assert.Equal(t, "Point of sale", pos.Description)
	assert.Equal(t, []string{"pos_system"}, pos.RequiredCapabilities)
	assert.Equal(t, []string{"loyalty_program"}, pos.OptionalCapabilities)
	assert.Equal(t, []string{"payments"}, pos.DependsOn)
	assert.Equal(t, map[string]string{"payments": "^1.0.0"}, pos.VersionConstraints)
	assert.Equal(t, "shell", pos.Remote)
	assert.Equal(t, []binderyv1alpha1.SlotContribution{
		{Slot: "dashboard", Contribution: "pos-widget", RequiredCapabilities: []string{"pos_system"}, Priority: 10},
		{Slot: "header", Contribution: "pos-button"},
	}, pos.Slots)
}

func TestParse_Errors(t *testing.T) {
	tests := map[string]string{
		"syntax":            `module "pos" {`,
		"missing version":   `module "pos" {}`,
		"unknown attribute": "module \"pos\" {\n version = \"1.0.0\"\n colour = \"red\"\n}\n",
		"unknown variable":  `module "pos" { version = var.nope }`,
		"duplicate id":      "module \"pos\" {\n version = \"1.0.0\"\n}\nmodule \"pos\" {\n version = \"2.0.0\"\n}\n",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := NewParser(nil).Parse([]byte(src), name+".hcl")
			assert.Error(t, err)
		})
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.hcl"), []byte(`module "crm" { version = "1.0.0" }`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.hcl"), []byte(`module "pos" { version = "1.0.0" }`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600))

	mods, err := LoadDir(dir, nil)
	require.NoError(t, err)
	require.Len(t, mods, 2)
	assert.Equal(t, "pos", mods[0].ID)
	assert.Equal(t, "crm", mods[1].ID)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.hcl"), []byte(`module "pos" { version = "2.0.0" }`), 0o600))
	_, err = LoadDir(dir, nil)
	assert.Error(t, err)
}
