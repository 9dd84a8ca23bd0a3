package gb28181

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestIssueNonceIsDeterministic(t *testing.T) {
	auth := NewAuthenticator("3402000000")
	at := time.UnixMilli(1700000000000)
	auth.now = func() time.Time { return at }

	challenge := auth.Issue("34020000001320000001")
	require.Equal(t, "3402000000", challenge.Realm)
	require.Equal(t, "MD5", challenge.Algorithm)
	require.Equal(t, md5Hex("1700000000000"+"34020000001320000001"), challenge.Nonce)
	require.Contains(t, challenge.WWWAuthenticate(), `Digest realm="3402000000"`)
	require.Contains(t, challenge.WWWAuthenticate(), `nonce="`+challenge.Nonce+`"`)
}

func TestVerifyAcceptsCorrectDigest(t *testing.T) {
	auth := NewAuthenticator("3402000000")
	nonce := "abc123"
	uri := "sip:34020000002000000001@3402000000"

	ha1 := md5Hex("34020000001320000001:3402000000:secret")
	ha2 := md5Hex("REGISTER:" + uri)
	response := md5Hex(ha1 + ":" + nonce + ":" + ha2)

	require.True(t, auth.Verify("34020000001320000001", "3402000000", nonce, uri, "REGISTER", response, "secret"))
	// Hex case must not matter.
	require.True(t, auth.Verify("34020000001320000001", "3402000000", nonce, uri, "REGISTER", strings.ToUpper(response), "secret"))
}

func TestVerifyRejectsDeviations(t *testing.T) {
	auth := NewAuthenticator("3402000000")
	nonce := "abc123"
	uri := "sip:34020000002000000001@3402000000"
	ha1 := md5Hex("34020000001320000001:3402000000:secret")
	ha2 := md5Hex("REGISTER:" + uri)
	response := md5Hex(ha1 + ":" + nonce + ":" + ha2)

	require.False(t, auth.Verify("34020000001320000001", "3402000000", nonce, uri, "REGISTER", response, "wrong"))
	require.False(t, auth.Verify("34020000001320000001", "3402000000", "other-nonce", uri, "REGISTER", response, "secret"))
	require.False(t, auth.Verify("34020000001320000001", "3402000000", nonce, "sip:other@3402000000", "REGISTER", response, "secret"))

	// A single flipped character fails.
	broken := []byte(response)
	if broken[0] == 'a' {
		broken[0] = 'b'
	} else {
		broken[0] = 'a'
	}
	require.False(t, auth.Verify("34020000001320000001", "3402000000", nonce, uri, "REGISTER", string(broken), "secret"))
}

func TestVerifyDefaultsRealmToAuthenticator(t *testing.T) {
	auth := NewAuthenticator("3402000000")
	nonce := "abc123"
	uri := "sip:x@3402000000"
	ha1 := md5Hex("user:3402000000:pw")
	ha2 := md5Hex("REGISTER:" + uri)
	response := md5Hex(ha1 + ":" + nonce + ":" + ha2)
	require.True(t, auth.Verify("user", "", nonce, uri, "REGISTER", response, "pw"))
}

func TestVerifyRejectsMissingFields(t *testing.T) {
	auth := NewAuthenticator("3402000000")
	require.False(t, auth.Verify("", "3402000000", "n", "u", "REGISTER", "r", "p"))
	require.False(t, auth.Verify("user", "3402000000", "", "u", "REGISTER", "r", "p"))
	require.False(t, auth.Verify("user", "3402000000", "n", "u", "REGISTER", "", "p"))
}
