package service

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/envfile"
	"github.com/imagicrafter/open-webui-infrastructure-sub002/internal/model"
)

func newTestConfigService(t *testing.T) (*ConfigService, *RegistryService) {
	t.Helper()
	registry := newTestRegistry(t, nil, "acme")
	svc, err := NewConfigService(registry, zap.NewNop())
	require.NoError(t, err)
	return svc, registry
}

func TestConfigService_Resolve_DefaultsOnly(t *testing.T) {
	svc, _ := newTestConfigService(t)

	effective, err := svc.Resolve(context.Background(), "acme", nil)
	require.NoError(t, err)

	assert.Equal(t, "Open WebUI", effective.Values["WEBUI_NAME"])
	assert.Equal(t, model.LayerOriginDefaults, effective.Provenance["WEBUI_NAME"])
	assert.Empty(t, effective.LayerErrors)
}

func TestConfigService_Resolve_TenantFileOverridesDefaults(t *testing.T) {
	svc, registry := newTestConfigService(t)

	path := registry.EnvFilePath("acme")
	require.NoError(t, os.WriteFile(path, []byte("WEBUI_NAME=Acme Corp\nCUSTOM_FLAG=on\n"), 0o600))

	effective, err := svc.Resolve(context.Background(), "acme", nil)
	require.NoError(t, err)

	assert.Equal(t, "Acme Corp", effective.Values["WEBUI_NAME"])
	assert.Equal(t, model.LayerOriginTenant, effective.Provenance["WEBUI_NAME"])
	assert.Equal(t, "on", effective.Values["CUSTOM_FLAG"])
	// Untouched defaults still shine through.
	assert.Equal(t, model.LayerOriginDefaults, effective.Provenance["DEFAULT_LOCALE"])
}

func TestConfigService_Resolve_RuntimeOverridesWin(t *testing.T) {
	svc, registry := newTestConfigService(t)

	path := registry.EnvFilePath("acme")
	require.NoError(t, os.WriteFile(path, []byte("WEBUI_NAME=Acme Corp\n"), 0o600))

	effective, err := svc.Resolve(context.Background(), "acme", map[string]string{
		"WEBUI_NAME": "Acme Staging",
	})
	require.NoError(t, err)

	assert.Equal(t, "Acme Staging", effective.Values["WEBUI_NAME"])
	assert.Equal(t, model.LayerOriginRuntime, effective.Provenance["WEBUI_NAME"])
}

func TestConfigService_Resolve_InvalidFileRejectedWholesale(t *testing.T) {
	svc, registry := newTestConfigService(t)

	path := registry.EnvFilePath("acme")
	require.NoError(t, os.WriteFile(path, []byte("GOOD=yes\nthis line has no equals\n"), 0o600))

	effective, err := svc.Resolve(context.Background(), "acme", nil)
	require.NoError(t, err)

	// The valid line does not sneak in; the whole layer is dropped.
	assert.NotContains(t, effective.Values, "GOOD")
	require.Len(t, effective.LayerErrors, 1)
	assert.Equal(t, model.LayerOriginTenant, effective.LayerErrors[0].Origin)
	assert.Contains(t, effective.LayerErrors[0].Message, "missing '='")
	// Defaults survive.
	assert.Equal(t, "Open WebUI", effective.Values["WEBUI_NAME"])
}

func TestConfigService_Resolve_InvalidRuntimeOverride(t *testing.T) {
	svc, _ := newTestConfigService(t)

	_, err := svc.Resolve(context.Background(), "acme", map[string]string{"9BAD": "x"})
	assert.ErrorIs(t, err, envfile.ErrInvalidKey)

	_, err = svc.Resolve(context.Background(), "acme", map[string]string{"GOOD": "line1\nline2"})
	assert.ErrorIs(t, err, envfile.ErrInvalidValue)
}

func TestConfigService_Resolve_TenantNotFound(t *testing.T) {
	svc, _ := newTestConfigService(t)

	_, err := svc.Resolve(context.Background(), "unknown", nil)
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestConfigService_SetEntry_CreatesFile(t *testing.T) {
	svc, registry := newTestConfigService(t)

	require.NoError(t, svc.SetEntry(context.Background(), "acme", "WEBUI_NAME", "Acme Corp"))

	path := registry.EnvFilePath("acme")
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	entries, err := envfile.ParseFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", entries["WEBUI_NAME"])
}

func TestConfigService_SetEntry_PreservesOtherKeys(t *testing.T) {
	svc, registry := newTestConfigService(t)

	require.NoError(t, svc.SetEntry(context.Background(), "acme", "A", "1"))
	require.NoError(t, svc.SetEntry(context.Background(), "acme", "B", "2"))
	require.NoError(t, svc.SetEntry(context.Background(), "acme", "A", "3"))

	entries, err := envfile.ParseFile(registry.EnvFilePath("acme"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "3", "B": "2"}, entries)
}

func TestConfigService_SetEntry_RejectsInvalidInput(t *testing.T) {
	svc, _ := newTestConfigService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.SetEntry(ctx, "acme", "9BAD", "x"), envfile.ErrInvalidKey)
	assert.ErrorIs(t, svc.SetEntry(ctx, "acme", "BAD KEY", "x"), envfile.ErrInvalidKey)
	assert.ErrorIs(t, svc.SetEntry(ctx, "acme", "GOOD", "a\nb"), envfile.ErrInvalidValue)
}

func TestConfigService_SetEntry_RefusesToRewriteInvalidFile(t *testing.T) {
	svc, registry := newTestConfigService(t)

	path := registry.EnvFilePath("acme")
	original := []byte("broken line without equals\n")
	require.NoError(t, os.WriteFile(path, original, 0o600))

	err := svc.SetEntry(context.Background(), "acme", "GOOD", "x")
	var validationErr *envfile.ValidationError
	require.ErrorAs(t, err, &validationErr)

	// The operator's file is exactly as they left it.
	content, readErr := os.ReadFile(path)
	require.NoError(t, readErr)
	assert.Equal(t, original, content)
}

func TestConfigService_DeleteEntry(t *testing.T) {
	svc, registry := newTestConfigService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetEntry(ctx, "acme", "A", "1"))
	require.NoError(t, svc.SetEntry(ctx, "acme", "B", "2"))

	require.NoError(t, svc.DeleteEntry(ctx, "acme", "A"))

	entries, err := envfile.ParseFile(registry.EnvFilePath("acme"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"B": "2"}, entries)
}

func TestConfigService_DeleteEntry_MissingFileIsNoop(t *testing.T) {
	svc, _ := newTestConfigService(t)

	assert.NoError(t, svc.DeleteEntry(context.Background(), "acme", "ANYTHING"))
}

func TestConfigService_DeleteEntry_MissingKeyIsNoop(t *testing.T) {
	svc, _ := newTestConfigService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetEntry(ctx, "acme", "A", "1"))
	assert.NoError(t, svc.DeleteEntry(ctx, "acme", "OTHER"))
}
