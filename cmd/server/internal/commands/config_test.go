package commands

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/newsletter/internal/auth"
	"github.com/wolfeidau/newsletter/internal/email"
	"github.com/wolfeidau/newsletter/internal/models"
	"github.com/wolfeidau/newsletter/internal/store"
	memorystore "github.com/wolfeidau/newsletter/internal/store/memory"
)

const testSecret = "0123456789abcdef0123456789abcdef"

const testConfig = `
auth-secret: 0123456789abcdef0123456789abcdef
listen: 127.0.0.1:9000
embedded_worker: true
store-type: postgres
reservation-lock-timeout: 2s
postgres:
  conn_string: postgres://newsletter@localhost/newsletter
  max-conns: 5
email:
  base-url: https://api.postmark.example
  timeout: 3s
worker:
  concurrency: 4
trusted-origins:
  - https://a.example
  - https://b.example
`

type testCLI struct {
	Serve  ServeCmd  `cmd:""`
	Worker WorkerCmd `cmd:""`
}

func parseWithConfig(t *testing.T, config string, args ...string) (*testCLI, error) {
	t.Helper()

	resolver, err := YAMLConfig(strings.NewReader(config))
	require.NoError(t, err)

	var cli testCLI
	parser, err := kong.New(&cli, kong.Resolvers(resolver), kong.Exit(func(int) {}))
	if err != nil {
		return nil, err
	}

	_, err = parser.Parse(args)
	return &cli, err
}

func TestYAMLConfig_ResolvesNestedKeys(t *testing.T) {
	cli, err := parseWithConfig(t, testConfig, "serve")
	require.NoError(t, err)

	c := cli.Serve
	require.Equal(t, "127.0.0.1:9000", c.Listen)
	require.True(t, c.EmbeddedWorker)
	require.Equal(t, "postgres", c.Store.StoreType)
	require.Equal(t, 2*time.Second, c.Store.ReservationLockTimeout)
	require.Equal(t, "postgres://newsletter@localhost/newsletter", c.Store.Postgres.ConnString)
	require.Equal(t, int32(5), c.Store.Postgres.MaxConns)
	require.Equal(t, int32(2), c.Store.Postgres.MinConns)
	require.Equal(t, "https://api.postmark.example", c.Email.BaseURL)
	require.Equal(t, 3*time.Second, c.Email.Timeout)
	require.Equal(t, 4, c.Worker.Concurrency)
	require.Equal(t, []string{"https://a.example", "https://b.example"}, c.TrustedOrigins)
}

func TestYAMLConfig_CommandLineWins(t *testing.T) {
	cli, err := parseWithConfig(t, testConfig, "serve", "--listen", "127.0.0.1:7000", "--worker-concurrency", "2")
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:7000", cli.Serve.Listen)
	require.Equal(t, 2, cli.Serve.Worker.Concurrency)
	require.Equal(t, "postgres", cli.Serve.Store.StoreType)
}

func TestYAMLConfig_SharedKeysApplyToEveryCommand(t *testing.T) {
	cli, err := parseWithConfig(t, testConfig, "worker")
	require.NoError(t, err)

	require.Equal(t, "postgres", cli.Worker.Store.StoreType)
	require.Equal(t, 4, cli.Worker.Worker.Concurrency)
}

func TestYAMLConfig_UnknownKey(t *testing.T) {
	_, err := parseWithConfig(t, testConfig+"listen-adress: 127.0.0.1:9000\n", "serve")
	require.Error(t, err)
}

func TestYAMLConfig_Empty(t *testing.T) {
	resolver, err := YAMLConfig(strings.NewReader(""))
	require.NoError(t, err)
	require.NotNil(t, resolver)
}

func TestYAMLConfig_Invalid(t *testing.T) {
	_, err := YAMLConfig(strings.NewReader("listen: [unterminated"))
	require.Error(t, err)

	_, err = YAMLConfig(strings.NewReader("trusted-origins:\n  - nested: value\n"))
	require.Error(t, err)
}

func TestFlattenConfig(t *testing.T) {
	flat := map[string]string{}
	err := flattenConfig("", map[string]any{
		"Email": map[string]any{
			"Rate_Per_Second": 2.5,
		},
		"debug": true,
		"empty": nil,
	}, flat)
	require.NoError(t, err)

	require.Equal(t, map[string]string{
		"email-rate-per-second": "2.5",
		"debug":                 "true",
		"empty":                 "",
	}, flat)
	require.Equal(t, []string{"debug", "email-rate-per-second", "empty"}, configKeys(flat))
}

func TestServeCmd_Validate(t *testing.T) {
	c := &ServeCmd{}
	require.Error(t, c.Validate())

	c.AuthSecret = testSecret
	require.NoError(t, c.Validate())

	c.Cert = "cert.pem"
	require.Error(t, c.Validate())

	c.Key = "key.pem"
	require.NoError(t, c.Validate())
}

func TestTokenCmd_IssuesVerifiableToken(t *testing.T) {
	var out bytes.Buffer
	principal := "0199d0f4-6c1a-7c3e-8f3b-1d2e3f4a5b6c"

	c := &TokenCmd{
		AuthSecret: testSecret,
		AuthIssuer: "newsletter",
		Principal:  principal,
		TTL:        time.Hour,
		out:        &out,
	}
	require.NoError(t, c.Run(context.Background(), &Globals{}))

	authenticator, err := auth.NewJWTAuthenticator([]byte(testSecret), "newsletter")
	require.NoError(t, err)

	got, err := authenticator.Verify(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	require.Equal(t, principal, got.String())
}

func TestTokenCmd_Errors(t *testing.T) {
	var out bytes.Buffer

	require.Error(t, (&TokenCmd{TTL: time.Hour, out: &out}).Run(context.Background(), &Globals{}))
	require.Error(t, (&TokenCmd{AuthSecret: "short", TTL: time.Hour, out: &out}).Run(context.Background(), &Globals{}))
	require.Error(t, (&TokenCmd{AuthSecret: testSecret, Principal: "nope", TTL: time.Hour, out: &out}).Run(context.Background(), &Globals{}))
	require.Empty(t, out.String())
}

func TestSeedSubscribers(t *testing.T) {
	ctx := context.Background()
	st := memorystore.NewStore()

	require.NoError(t, seedSubscribers(ctx, st, []string{"a@example.com", "b@example.com"}))
	// seeding twice is harmless
	require.NoError(t, seedSubscribers(ctx, st, []string{"a@example.com"}))
	require.Error(t, seedSubscribers(ctx, st, []string{"not-an-address"}))

	err := st.AddSubscriber(ctx, &models.Subscriber{Email: "a@example.com", Status: models.SubscriptionStatusConfirmed})
	require.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestStoreFlags_OpenMemory(t *testing.T) {
	flags := &StoreFlags{StoreType: "memory", ReservationLockTimeout: time.Second}

	st, err := flags.open(context.Background())
	require.NoError(t, err)
	require.NoError(t, st.Stop())
}

func TestStoreFlags_PostgresRequiresConnString(t *testing.T) {
	flags := &StoreFlags{StoreType: "postgres"}

	_, err := flags.open(context.Background())
	require.Error(t, err)
}

func TestEmailFlags_Gateway(t *testing.T) {
	gateway, err := (&EmailFlags{}).gateway()
	require.NoError(t, err)
	require.IsType(t, email.LogGateway{}, gateway)

	_, err = (&EmailFlags{BaseURL: "https://api.postmark.example", Sender: "bad"}).gateway()
	require.Error(t, err)
}
