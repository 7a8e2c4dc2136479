package relay_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"duet/internal/domain"
	"duet/internal/guard"
	"duet/internal/mailbox"
	"duet/internal/relay"
	"duet/internal/storage/memory"
	"duet/internal/storage/storetest"
)

func init() { gin.SetMode(gin.TestMode) }

func newRelay(t *testing.T) (*httptest.Server, *relay.HTTPClient) {
	t.Helper()
	store := memory.New()
	g := guard.New(store, guard.DefaultConfig(), nil)
	srv := relay.NewServer(store, mailbox.New(g, store, nil), nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, relay.NewHTTPClient(ts.URL)
}

func message(id string, seq uint64, ts time.Time) domain.WireMessage {
	return domain.WireMessage{
		Version:        domain.WireVersion,
		MessageID:      domain.MessageID(id),
		SenderID:       "alice",
		RecipientID:    "bob",
		SequenceNumber: seq,
		Timestamp:      ts.UnixMilli(),
		Envelope: domain.EncryptedMessage{
			RatchetKey:   domain.X25519Public{7},
			MessageIndex: uint32(seq - 1),
			Ciphertext:   []byte("sealed-" + id),
		},
	}
}

func TestKeys_PublishFetchCount(t *testing.T) {
	_, c := newRelay(t)
	ctx := context.Background()
	keys := storetest.Party(t, 2)

	require.NoError(t, c.PublishKeys(ctx, keys))

	b, err := c.FetchPreKeyBundle(ctx, keys.PartyID)
	require.NoError(t, err)
	assert.Equal(t, keys.PartyID, b.PartyID)
	assert.Equal(t, keys.Identity.SigningKey, b.Identity.SigningKey)
	assert.Equal(t, keys.SignedPreKey.ID, b.SignedPreKey.ID)
	require.NotNil(t, b.OneTimePreKey)
	assert.Equal(t, 1, b.OneTimePreKeysRemaining)

	n, err := c.CountOneTimePreKeys(ctx, keys.PartyID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestKeys_UnknownPartyIsNotFound(t *testing.T) {
	_, c := newRelay(t)

	_, err := c.FetchPreKeyBundle(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestKeys_BadSignatureRejected(t *testing.T) {
	_, c := newRelay(t)
	keys := storetest.Party(t, 0)
	keys.SignedPreKey.Signature[0] ^= 0xff

	err := c.PublishKeys(context.Background(), keys)
	require.Error(t, err)
	_, err = c.FetchPreKeyBundle(context.Background(), keys.PartyID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMessages_SendFetchAck(t *testing.T) {
	_, c := newRelay(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, c.SendMessage(ctx, message("m1", 1, now)))
	require.NoError(t, c.SendMessage(ctx, message("m2", 2, now)))

	got, err := c.FetchMessages(ctx, "bob", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, domain.MessageID("m1"), got[0].MessageID)
	assert.Equal(t, []byte("sealed-m2"), got[1].Envelope.Ciphertext)
	assert.Equal(t, uint64(2), got[1].SequenceNumber)

	require.NoError(t, c.AckMessages(ctx, "bob", []domain.MessageID{"m1", "m2"}))
	got, err = c.FetchMessages(ctx, "bob", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMessages_GuardRejectionsReachClient(t *testing.T) {
	_, c := newRelay(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, c.SendMessage(ctx, message("m1", 1, now)))

	err := c.SendMessage(ctx, message("m1", 2, now))
	assert.ErrorIs(t, err, domain.ErrReplayRejected)

	err = c.SendMessage(ctx, message("m3", 1, now))
	assert.ErrorIs(t, err, domain.ErrSequenceRejected)

	err = c.SendMessage(ctx, message("m4", 2, now.Add(-2*time.Hour)))
	assert.ErrorIs(t, err, domain.ErrClockSkewRejected)

	got, err := c.FetchMessages(ctx, "bob", 0)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestMessages_AcceptsVersionZeroRecords(t *testing.T) {
	ts, c := newRelay(t)
	body := `{"version":0,"message_id":"legacy","sender_id":"alice","recipient_id":"bob",` +
		`"sequence_number":"3","identity_version":"1","timestamp":` +
		jsonInt(time.Now().UnixMilli()) +
		`,"envelope":{"ratchet_key":` + jsonKey(9) + `,"pn":0,"n":0,"ciphertext":"AQID"}}`

	resp, err := http.Post(ts.URL+"/v1/messages", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	got, err := c.FetchMessages(context.Background(), "bob", 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, domain.WireVersion, got[0].Version)
	assert.Equal(t, uint64(3), got[0].SequenceNumber)
	assert.Equal(t, uint32(1), got[0].IdentityVersion)
}

func TestMessages_MalformedBody(t *testing.T) {
	ts, _ := newRelay(t)

	resp, err := http.Post(ts.URL+"/v1/messages", "application/json", strings.NewReader("{not json"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, string(domain.CodeInvalidInput), body.Error.Code)
}

func TestMessages_BadLimit(t *testing.T) {
	ts, _ := newRelay(t)

	resp, err := http.Get(ts.URL + "/v1/messages/bob?limit=-1")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	ts, _ := newRelay(t)

	for _, path := range []string{"/healthz", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func jsonKey(first byte) string {
	b, _ := json.Marshal(domain.X25519Public{first})
	return string(b)
}
