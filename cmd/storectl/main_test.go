package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storechain/crypto"
	"storechain/rpc"
)

func TestKeygenWritesKeystore(t *testing.T) {
	t.Setenv(defaultPassEnv, "pass")
	path := filepath.Join(t.TempDir(), "buyer.keystore")
	var out bytes.Buffer
	require.NoError(t, runKeygen([]string{"-keystore", path, "-light"}, &out))

	var info keyInfo
	require.NoError(t, json.Unmarshal(out.Bytes(), &info))
	require.True(t, strings.HasPrefix(info.Address, "store1"))
	key, err := crypto.LoadFromKeystore(path, "pass")
	require.NoError(t, err)
	require.Equal(t, info.Address, key.PubKey().Address().String())

	require.Error(t, runKeygen([]string{"-keystore", path, "-light"}, io.Discard))
}

func TestTokenAuthenticatesAddress(t *testing.T) {
	addr := "0x" + strings.Repeat("11", 20)
	var out bytes.Buffer
	now := func() time.Time { return time.Now() }
	require.NoError(t, runToken([]string{"-address", addr, "-secret", "s3cret", "-issuer", "storechain", "-ttl", "1m"}, &out, now))

	auth := rpc.NewAuthenticator(rpc.AuthConfig{HMACSecret: "s3cret", Issuer: "storechain"}, nil)
	caller, err := auth.Authenticate("Bearer " + strings.TrimSpace(out.String()))
	require.NoError(t, err)
	require.Equal(t, addr, crypto.HexAddress(caller))

	require.Error(t, runToken([]string{"-address", "nope", "-secret", "x", "-issuer", "i", "-ttl", "1m"}, io.Discard, now))
}

func TestCallPostsRequest(t *testing.T) {
	var got rpc.CallRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/call", r.URL.Path)
		require.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"events":[]}`))
	}))
	defer server.Close()

	var out bytes.Buffer
	err := runCall([]string{"-rpc", server.URL, "-token", "tok", "-to", "0xabc", "-value", "10",
		"-method", "purchaseProduct", "-params", `{"productId":1}`}, &out, server.Client())
	require.NoError(t, err)
	require.Equal(t, "purchaseProduct", got.Method)
	require.JSONEq(t, `{"productId":1}`, string(got.Params))
	require.JSONEq(t, `{"events":[]}`, out.String())

	require.ErrorContains(t, runCall([]string{"-rpc", server.URL, "-token", "tok", "-params", "{"}, io.Discard, server.Client()), "valid JSON")
}
