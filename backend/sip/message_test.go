package sip

import (
	"bufio"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequest(t *testing.T) {
	raw := strings.Join([]string{
		"REGISTER sip:34020000002000000001@3402000000 SIP/2.0",
		"Via: SIP/2.0/UDP 192.168.1.64:5060;branch=z9hG4bK1234",
		"From: <sip:34020000001320000001@3402000000>;tag=abc",
		"To: <sip:34020000001320000001@3402000000>",
		"Call-ID: 987654321",
		"CSeq: 1 REGISTER",
		"Expires: 3600",
		"Content-Length: 0",
		"",
		"",
	}, "\r\n")

	msg, err := Parse(raw)
	require.NoError(t, err)
	assert.False(t, msg.IsResponse)
	assert.Equal(t, "REGISTER", msg.Method)
	assert.Equal(t, "sip:34020000002000000001@3402000000", msg.URI)
	assert.Equal(t, "987654321", msg.Header("Call-ID"))
	assert.Equal(t, "3600", msg.Header("Expires"))
	assert.Empty(t, msg.Body)
}

func TestParseResponse(t *testing.T) {
	raw := strings.Join([]string{
		"SIP/2.0 200 OK",
		"Via: SIP/2.0/UDP 10.0.0.1:5060",
		"Call-ID: call-1",
		"CSeq: 1 INVITE",
		"Content-Length: 0",
		"",
		"",
	}, "\r\n")

	msg, err := Parse(raw)
	require.NoError(t, err)
	assert.True(t, msg.IsResponse)
	assert.Equal(t, 200, msg.StatusCode)
	assert.Equal(t, "OK", msg.Reason)
}

func TestParseRequestWithBody(t *testing.T) {
	body := "<?xml version=\"1.0\"?>\r\n<Notify>\r\n<CmdType>Keepalive</CmdType>\r\n</Notify>"
	raw := "MESSAGE sip:34020000002000000001@3402000000 SIP/2.0\r\n" +
		"From: <sip:34020000001320000001@3402000000>;tag=1\r\n" +
		"To: <sip:34020000002000000001@3402000000>\r\n" +
		"Call-ID: c1\r\nCSeq: 20 MESSAGE\r\n" +
		"Content-Type: Application/MANSCDP+xml\r\n" +
		"Content-Length: " + "0" + "\r\n\r\n" + body

	msg, err := Parse(raw)
	require.NoError(t, err)
	assert.Contains(t, msg.Body, "Keepalive")
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse("")
	assert.Error(t, err)
	_, err = Parse("NONSENSE")
	assert.Error(t, err)
}

func TestBuildResponseEchoesDialogHeaders(t *testing.T) {
	msg, err := Parse("REGISTER sip:a@b SIP/2.0\r\nVia: SIP/2.0/UDP 1.2.3.4:5060\r\nFrom: <sip:x@b>;tag=f1\r\nTo: <sip:x@b>\r\nCall-ID: c9\r\nCSeq: 3 REGISTER\r\n\r\n")
	require.NoError(t, err)

	response := BuildResponse(msg, 200, "OK", map[string]string{"Expires": "3600"}, "")
	assert.True(t, strings.HasPrefix(response, "SIP/2.0 200 OK"))
	assert.Contains(t, response, "Call-ID: c9")
	assert.Contains(t, response, "CSeq: 3 REGISTER")
	assert.Contains(t, response, "Expires: 3600")
	assert.Contains(t, response, "To: <sip:x@b>;tag=")
	assert.Contains(t, response, "Content-Length: 0")
}

func TestBuildRequestSkipsEmptyHeaders(t *testing.T) {
	request := BuildRequest("MESSAGE", "sip:dev@realm", map[string]string{
		"Via":     "SIP/2.0/UDP 1.1.1.1:5060",
		"From":    "<sip:platform@realm>;tag=t",
		"To":      "<sip:dev@realm>",
		"Call-ID": "c1",
		"CSeq":    "1 MESSAGE",
		"Subject": "",
	}, "body")
	assert.True(t, strings.HasPrefix(request, "MESSAGE sip:dev@realm SIP/2.0"))
	assert.NotContains(t, request, "Subject")
	assert.Contains(t, request, "Content-Length: 4")
	assert.True(t, strings.HasSuffix(request, "\r\n\r\nbody"))
}

func TestReadPacketFramesByContentLength(t *testing.T) {
	payload := "MESSAGE sip:a@b SIP/2.0\r\nCall-ID: c1\r\nContent-Length: 5\r\n\r\nhello" +
		"MESSAGE sip:a@b SIP/2.0\r\nCall-ID: c2\r\nContent-Length: 0\r\n\r\n"
	reader := bufio.NewReader(strings.NewReader(payload))

	first, err := ReadPacket(reader)
	require.NoError(t, err)
	assert.Contains(t, first, "Call-ID: c1")
	assert.True(t, strings.HasSuffix(first, "hello"))

	second, err := ReadPacket(reader)
	require.NoError(t, err)
	assert.Contains(t, second, "Call-ID: c2")
}

func TestExtractUser(t *testing.T) {
	assert.Equal(t, "34020000001320000001", ExtractUser("<sip:34020000001320000001@3402000000>;tag=1"))
	assert.Equal(t, "34020000001320000001", ExtractUser("sip:34020000001320000001@3402000000"))
	assert.Empty(t, ExtractUser("tel:123"))
	assert.Empty(t, ExtractUser(""))
}

func TestExtractTag(t *testing.T) {
	assert.Equal(t, "f1", ExtractTag("<sip:x@b>;tag=f1"))
	assert.Equal(t, "f1", ExtractTag("<sip:x@b>;tag=f1;other=2"))
	assert.Empty(t, ExtractTag("<sip:x@b>"))
}

func TestParseExpires(t *testing.T) {
	assert.Equal(t, 3600, ParseExpires("3600", "", 1800))
	assert.Equal(t, 0, ParseExpires("0", "", 1800))
	assert.Equal(t, 120, ParseExpires("", "<sip:a@b>;expires=120", 1800))
	assert.Equal(t, 1800, ParseExpires("", "", 1800))
	assert.Equal(t, 3600, ParseExpires("bad", "", -1))
}

func TestParseCSeqNumber(t *testing.T) {
	assert.Equal(t, 20, ParseCSeqNumber("20 MESSAGE"))
	assert.Equal(t, 0, ParseCSeqNumber("bogus"))
	assert.Equal(t, 0, ParseCSeqNumber(""))
}

func TestParseDigestAuthorization(t *testing.T) {
	header := `Digest username="34020000001320000001", realm="3402000000", nonce="abcd", uri="sip:34020000002000000001@3402000000", response="deadbeef", algorithm=MD5`
	params := ParseDigestAuthorization(header)
	assert.Equal(t, "34020000001320000001", params["username"])
	assert.Equal(t, "3402000000", params["realm"])
	assert.Equal(t, "abcd", params["nonce"])
	assert.Equal(t, "deadbeef", params["response"])
	assert.Equal(t, "MD5", params["algorithm"])
	assert.Nil(t, ParseDigestAuthorization(""))
}

func TestParseSDPInfo(t *testing.T) {
	sdp := strings.Join([]string{
		"v=0",
		"o=34020000001320000001 0 0 IN IP4 192.168.1.64",
		"s=Play",
		"c=IN IP4 192.168.1.64",
		"t=0 0",
		"m=video 30000 RTP/AVP 96",
		"a=rtpmap:96 PS/90000",
		"y=0100000001",
	}, "\r\n")
	ip, port, ssrc := ParseSDPInfo(sdp)
	assert.Equal(t, "192.168.1.64", ip)
	assert.Equal(t, 30000, port)
	assert.Equal(t, "0100000001", ssrc)
}

func TestGenerateNumericToken(t *testing.T) {
	token := GenerateNumericToken(10)
	assert.Len(t, token, 10)
	for _, ch := range token {
		assert.True(t, ch >= '0' && ch <= '9')
	}
}

func TestNormalizeRemoteAddr(t *testing.T) {
	assert.Equal(t, "1.2.3.4:5678", NormalizeRemoteAddr("1.2.3.4:5678", 5060))
	assert.Equal(t, "1.2.3.4:5060", NormalizeRemoteAddr("1.2.3.4", 5060))
	assert.Equal(t, "1.2.3.4:5060", NormalizeRemoteAddr("1.2.3.4", 0))
}
