package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestParseHeaders(t *testing.T) {
	headers := ParseHeaders(" api-key = abc ,broken, =skip,tenant=storechain")
	require.Equal(t, map[string]string{"api-key": "abc", "tenant": "storechain"}, headers)
}

func TestInitWithoutExporters(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)

	shutdown, err := Init(context.Background(), Config{ServiceName: "storechaind"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))
}

func TestNormalizeEndpoint(t *testing.T) {
	endpoint, insecure := normalizeEndpoint("", false)
	require.Equal(t, "localhost:4318", endpoint)
	require.False(t, insecure)

	endpoint, insecure = normalizeEndpoint("http://collector:4318/", false)
	require.Equal(t, "collector:4318", endpoint)
	require.True(t, insecure)

	endpoint, insecure = normalizeEndpoint("https://otlp.example.com", false)
	require.Equal(t, "otlp.example.com", endpoint)
	require.False(t, insecure)
}

func TestLedgerResourceCarriesPlatformIdentity(t *testing.T) {
	res := ledgerResource(Config{
		ServiceName:   "storechaind",
		Environment:   "test",
		Factory:       "0xfac7",
		PlatformOwner: "0x0a11",
	})
	set := res.Set()
	factory, ok := set.Value(FactoryKey)
	require.True(t, ok)
	require.Equal(t, "0xfac7", factory.AsString())
	owner, ok := set.Value(PlatformOwnerKey)
	require.True(t, ok)
	require.Equal(t, "0x0a11", owner.AsString())
	_, ok = set.Value(attribute.Key("service.instance.id"))
	require.True(t, ok)
}

func TestSamplerKeepsWrites(t *testing.T) {
	require.Contains(t, newSampler(0).Description(), "AlwaysOnSampler")

	// A ratio this small drops essentially every read trace.
	sampler := newSampler(1e-12)
	require.Contains(t, sampler.Description(), "TraceIDRatioBased")
	traceID := trace.TraceID{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	decide := func(name string, attrs ...attribute.KeyValue) sdktrace.SamplingDecision {
		return sampler.ShouldSample(sdktrace.SamplingParameters{
			ParentContext: context.Background(),
			TraceID:       traceID,
			Name:          name,
			Attributes:    attrs,
		}).Decision
	}

	require.Equal(t, sdktrace.RecordAndSample, decide(ledgerCallSpan))
	require.Equal(t, sdktrace.RecordAndSample, decide("storechain.rpc", attribute.String("http.method", "POST")))
	require.Equal(t, sdktrace.Drop, decide("storechain.rpc", attribute.String("http.method", "GET")))
	require.Equal(t, sdktrace.Drop, decide("storechain.rpc"))
}
