package gb28181

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Challenge is the digest challenge sent on a 401. Nothing is retained
// server-side; the nonce is recomputable from its inputs.
type Challenge struct {
	Realm     string
	Nonce     string
	Algorithm string
}

func (c Challenge) WWWAuthenticate() string {
	return fmt.Sprintf(`Digest realm="%s",nonce="%s",algorithm=%s`, c.Realm, c.Nonce, c.Algorithm)
}

// Authenticator issues and verifies MD5 digest credentials. It keeps no
// nonce cache, so a previously issued nonce stays acceptable; the weaker
// replay guarantee is accepted deliberately.
type Authenticator struct {
	realm string
	now   func() time.Time
}

func NewAuthenticator(realm string) *Authenticator {
	return &Authenticator{realm: strings.TrimSpace(realm), now: time.Now}
}

func (a *Authenticator) Issue(deviceID string) Challenge {
	millis := a.now().UnixMilli()
	return Challenge{
		Realm:     a.realm,
		Nonce:     md5Hex(strconv.FormatInt(millis, 10) + strings.TrimSpace(deviceID)),
		Algorithm: "MD5",
	}
}

// Verify checks response == md5(md5(username:realm:password):nonce:md5(METHOD:uri)),
// comparing case-insensitively.
func (a *Authenticator) Verify(username string, realm string, nonce string, uri string, method string, response string, password string) bool {
	username = strings.TrimSpace(username)
	nonce = strings.TrimSpace(nonce)
	response = strings.TrimSpace(response)
	if username == "" || nonce == "" || response == "" {
		return false
	}
	if strings.TrimSpace(realm) == "" {
		realm = a.realm
	}
	ha1 := md5Hex(username + ":" + strings.TrimSpace(realm) + ":" + password)
	ha2 := md5Hex(strings.ToUpper(strings.TrimSpace(method)) + ":" + strings.TrimSpace(uri))
	expected := md5Hex(ha1 + ":" + nonce + ":" + ha2)
	return strings.EqualFold(expected, response)
}

func md5Hex(value string) string {
	sum := md5.Sum([]byte(value))
	return hex.EncodeToString(sum[:])
}
