package engine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	gfassert "github.com/GhostKellz/ghostflow/internal/assert"
	"github.com/GhostKellz/ghostflow/internal/assert/helpers"
	"github.com/GhostKellz/ghostflow/internal/engine"
	"github.com/GhostKellz/ghostflow/pkg/api"
	"github.com/GhostKellz/ghostflow/pkg/node"
)

func paramFlow() *helpers.FlowBuilder {
	limit := api.Int(10)
	return helpers.NewFlow().
		Node("a", "vars").
		Parameter(&api.Parameter{
			Name: "region", Type: "string", Required: true,
		}).
		Parameter(&api.Parameter{
			Name: "limit", Type: "number", Default: &limit,
		}).
		Parameter(&api.Parameter{
			Name: "verbose", Type: "bool",
		})
}

func registerVars(t *testing.T, env *helpers.TestEngineEnv) {
	env.Register(t, "vars", helpers.NewTestNode(
		func(_ context.Context, nc *node.Context, _ int) (api.Value, error) {
			return api.Mapping(nc.Variables()), nil
		},
	))
}

func TestParametersSeedVariables(t *testing.T) {
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		registerVars(t, env)

		f := paramFlow().Build()
		ex, err := env.Run(t, f, api.MustFromAny(map[string]any{
			"region": "eu",
			"extra":  true,
		}))
		assert.NoError(t, err)
		assert.Equal(t, api.StatusCompleted, ex.Status)

		out, _ := ex.Output.Get("a")
		assert.True(t, out.Equal(api.Mapping(map[string]api.Value{
			"region": api.String("eu"),
			"limit":  api.Int(10),
		})))
	})
}

func TestParameterErrors(t *testing.T) {
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		registerVars(t, env)
		f := paramFlow().Build()
		assert.NoError(t, env.Engine.RegisterFlow(f))

		ctx := context.Background()
		start := func(input api.Value) error {
			_, err := env.Engine.StartExecution(ctx, f.ID, engine.StartRequest{
				Input: input,
			})
			return err
		}

		err := start(api.MustFromAny(map[string]any{"limit": 5}))
		as := gfassert.New(t)
		as.ErrorKind(api.ErrorInfoOf(err), api.KindValidation)
		as.ErrorIs(err, engine.ErrMissingParameter)

		err = start(api.MustFromAny(map[string]any{
			"region": "eu", "limit": "many",
		}))
		assert.ErrorIs(t, err, engine.ErrParameterType)

		err = start(api.String("eu"))
		assert.ErrorIs(t, err, engine.ErrInvalidInput)

		execs, err := env.Engine.ListExecutions(ctx, f.ID)
		assert.NoError(t, err)
		assert.Empty(t, execs)
	})
}

func TestSecretsResolvedAtStart(t *testing.T) {
	helpers.WithStartedEngine(t, func(env *helpers.TestEngineEnv) {
		env.Secrets["api-key"] = "s3cr3t"
		env.Register(t, "secretive", helpers.NewTestNode(
			func(_ context.Context, nc *node.Context, _ int) (api.Value, error) {
				v, ok := nc.Secret("api-key")
				if !ok {
					return api.Null(), api.NewExecutionError("no secret", false)
				}
				_, leaked := nc.Secret("other")
				return api.Mapping(map[string]api.Value{
					"len":    api.Int(int64(len(v))),
					"leaked": api.Bool(leaked),
				}), nil
			},
		))

		f := helpers.NewFlow().Node("a", "secretive").Secret("api-key").Build()
		ex, err := env.Run(t, f, api.Null())
		assert.NoError(t, err)
		assert.Equal(t, api.StatusCompleted, ex.Status)
		out, _ := ex.Output.Get("a")
		assert.True(t, out.Equal(api.Mapping(map[string]api.Value{
			"len":    api.Int(6),
			"leaked": api.Bool(false),
		})))
		assert.NotContains(t, ex.Output.String(), "s3cr3t")

		missing := helpers.NewFlow().Node("a", "secretive").Secret("absent").Build()
		assert.NoError(t, env.Engine.RegisterFlow(missing))
		_, err = env.Engine.StartExecution(
			context.Background(), missing.ID, engine.StartRequest{},
		)
		assert.ErrorIs(t, err, engine.ErrSecretNotFound)
	})
}

func TestEnvSecrets(t *testing.T) {
	t.Setenv("GHOSTFLOW_SECRET_DB_PASSWORD", "hunter2")
	v, err := engine.EnvSecrets{}.Resolve(context.Background(), "db.password")
	assert.NoError(t, err)
	assert.Equal(t, "hunter2", v)

	_, err = engine.EnvSecrets{}.Resolve(context.Background(), "nope")
	assert.ErrorIs(t, err, engine.ErrSecretNotFound)
}
