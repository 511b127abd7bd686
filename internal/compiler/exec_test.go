package compiler

import (
	"context"
	"os/exec"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	forgeerrors "github.com/filterforge/filterforge/internal/errors"
	"github.com/filterforge/filterforge/internal/types"
)

func TestCompileFuncAdapter(t *testing.T) {
	var got Config
	c := CompileFunc(func(ctx context.Context, cfg Config) ([]string, error) {
		got = cfg
		return []string{"||example.org^"}, nil
	})

	lines, err := c.Compile(context.Background(), Config{Name: "test"})
	require.NoError(t, err)
	assert.Equal(t, "test", got.Name)
	assert.Equal(t, []string{"||example.org^"}, lines)
}

func TestCommandPrefersBinaryOverNpx(t *testing.T) {
	c := NewExecCompiler(nil)
	c.lookPath = func(name string) (string, error) {
		if name == "hostlist-compiler" {
			return "/usr/local/bin/hostlist-compiler", nil
		}
		return "", exec.ErrNotFound
	}

	args, err := c.command("/tmp/c.json", "/tmp/o.txt")
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/hostlist-compiler", args[0])
	assert.Contains(t, args, "--config")
	assert.Contains(t, args, "/tmp/o.txt")
}

func TestCommandFallsBackToNpx(t *testing.T) {
	c := NewExecCompiler(nil)
	c.lookPath = func(name string) (string, error) {
		if name == "npx" {
			return "/usr/bin/npx", nil
		}
		return "", exec.ErrNotFound
	}

	args, err := c.command("/tmp/c.json", "/tmp/o.txt")
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/npx", args[0])
	assert.Equal(t, "@adguard/hostlist-compiler", args[1])
}

func TestCommandMissingCompiler(t *testing.T) {
	c := NewExecCompiler(nil)
	c.lookPath = func(string) (string, error) { return "", exec.ErrNotFound }

	_, err := c.command("/tmp/c.json", "/tmp/o.txt")
	require.Error(t, err)
	assert.ErrorIs(t, err,
		forgeerrors.NewCompileError(forgeerrors.ErrCodeCompilerNotFound, "", nil))
}

func TestCompileMissingOutputIsError(t *testing.T) {
	// /bin/true exits zero without creating the output file; that must
	// not pass as an empty list.
	c := NewExecCompiler(nil)
	c.lookPath = func(name string) (string, error) {
		if name == "hostlist-compiler" {
			return "/bin/true", nil
		}
		return "", exec.ErrNotFound
	}

	_, err := c.Compile(context.Background(), Config{Name: "empty"})
	require.Error(t, err)
	assert.ErrorIs(t, err,
		forgeerrors.NewCompileError(forgeerrors.ErrCodeOutputMissing, "", nil))
}

func TestValidateArgsRejectsMetacharacters(t *testing.T) {
	assert.Error(t, validateArgs([]string{"--config", "a.json; rm -rf /"}))
	assert.Error(t, validateArgs([]string{"$(whoami)"}))
	assert.NoError(t, validateArgs([]string{"--config", "/tmp/forge-config-1.json"}))
}

func TestSplitLines(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitLines("a\nb\n"))
	assert.Equal(t, []string{"a", "b"}, splitLines("a\r\nb"))
	assert.Equal(t, []string{"a", "", "b"}, splitLines("a\n\nb"))
	assert.Nil(t, splitLines(""))
	assert.Nil(t, splitLines("\n"))
}

func TestCountRules(t *testing.T) {
	lines := []string{
		"! comment",
		"# another comment",
		"",
		"   ",
		"||example.org^",
		"||ads.example^",
	}
	assert.Equal(t, 2, CountRules(lines))
}

func TestConfigJSONShape(t *testing.T) {
	cfg := Config{
		Name: "chunk 1/2",
		Sources: []types.Source{
			{Origin: "https://example.org/list.txt", Format: "adblock"},
		},
	}
	// Empty optional fields stay out of the JSON handed to the external
	// compiler so its schema validation does not trip.
	assert.Empty(t, cfg.Transformations)
	assert.True(t, cfg.Sources[0].IsLocal() == false)
}
