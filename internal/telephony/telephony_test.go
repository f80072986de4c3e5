package telephony

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return key, pemBytes
}

func TestNCCO_JSON(t *testing.T) {
	ncco := NCCO{
		Stream("https://example.com/api/vonage/intro-audio"),
		ListenForSpeech("https://example.com/api/vonage/webhooks/speech", ""),
	}

	raw, err := json.Marshal(ncco)
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Len(t, decoded, 2)

	assert.Equal(t, "stream", decoded[0]["action"])
	assert.Equal(t, []any{"https://example.com/api/vonage/intro-audio"}, decoded[0]["streamUrl"])
	assert.Equal(t, true, decoded[0]["bargeIn"])
	assert.NotContains(t, decoded[0], "text")

	assert.Equal(t, "input", decoded[1]["action"])
	assert.Equal(t, []any{"speech"}, decoded[1]["type"])
	speech := decoded[1]["speech"].(map[string]any)
	assert.Equal(t, "en-US", speech["language"])
}

func TestSpeechEvent(t *testing.T) {
	var ev SpeechEvent
	raw := `{"uuid":"leg-1","conversation_uuid":"CON-1","speech":{"results":[{"text":" I'm Ada ","confidence":"0.9"},{"text":"I'm Ava"}]}}`
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))

	assert.Equal(t, "I'm Ada", ev.Transcript())
	assert.Equal(t, "leg-1", ev.CallID())

	var silent SpeechEvent
	require.NoError(t, json.Unmarshal([]byte(`{"conversation_uuid":"CON-2","speech":{"timeout_reason":"start_timeout"}}`), &silent))
	assert.Empty(t, silent.Transcript())
	assert.Equal(t, "CON-2", silent.CallID())
}

func TestCallEvent_Ended(t *testing.T) {
	assert.True(t, (&CallEvent{Status: "completed"}).Ended())
	assert.False(t, (&CallEvent{Status: "answered"}).Ended())
}

func TestClient_Token(t *testing.T) {
	key, pemBytes := testKey(t)
	c, err := NewClient(Config{ApplicationID: "app-1", PrivateKey: pemBytes})
	require.NoError(t, err)

	signed, err := c.Token()
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	_, err = jwt.ParseWithClaims(signed, claims, func(tok *jwt.Token) (interface{}, error) {
		assert.Equal(t, "RS256", tok.Method.Alg())
		return &key.PublicKey, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "app-1", claims["application_id"])
	assert.NotEmpty(t, claims["jti"])
	assert.Contains(t, claims, "exp")
}

func TestClient_CreateCall(t *testing.T) {
	key, pemBytes := testKey(t)

	var got createCallRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/calls", r.URL.Path)
		auth := r.Header.Get("Authorization")
		assert.True(t, strings.HasPrefix(auth, "Bearer "))
		_, err := jwt.Parse(strings.TrimPrefix(auth, "Bearer "), func(tok *jwt.Token) (interface{}, error) {
			return &key.PublicKey, nil
		})
		assert.NoError(t, err)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"uuid":"call-uuid","status":"started","direction":"outbound","conversation_uuid":"CON-9"}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{ApplicationID: "app-1", PrivateKey: pemBytes, FromNumber: "+14155550100", BaseURL: srv.URL})
	require.NoError(t, err)

	res, err := c.CreateCall(context.Background(), "+15551234567", "https://example.com/api/vonage/webhooks/inbound", "")
	require.NoError(t, err)
	assert.Equal(t, "call-uuid", res.UUID)

	require.Len(t, got.To, 1)
	assert.Equal(t, "15551234567", got.To[0].Number)
	assert.Equal(t, "14155550100", got.From.Number)
	assert.Equal(t, []string{"https://example.com/api/vonage/webhooks/inbound"}, got.AnswerURL)
	assert.Nil(t, got.EventURL)
}

func TestClient_CreateCallErrors(t *testing.T) {
	_, pemBytes := testKey(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"title":"Unauthorized"}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, err := NewClient(Config{ApplicationID: "app-1", PrivateKey: pemBytes, BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.CreateCall(context.Background(), " ", "https://x", "")
	assert.ErrorIs(t, err, ErrMissingNumber)

	_, err = c.CreateCall(context.Background(), "+15551234567", "https://x", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")

	_, err = NewClient(Config{ApplicationID: "app-1", PrivateKey: []byte("not a key")})
	assert.Error(t, err)
}
