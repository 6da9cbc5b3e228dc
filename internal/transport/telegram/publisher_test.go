package telegram

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele "gopkg.in/telebot.v4"

	"offerbot/internal/offer"
	"offerbot/internal/pipeline"
	"offerbot/internal/storage"
)

// channelSender simulates the Bot API: photo and text calls take delay and
// then either post (recorded in posted) or fail with the configured error.
type channelSender struct {
	delay    time.Duration
	photoErr error
	textErr  error

	mu     sync.Mutex
	posted []string
	calls  int
}

func (c *channelSender) Send(_ tele.Recipient, what interface{}, _ ...interface{}) (*tele.Message, error) {
	time.Sleep(c.delay)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	switch what.(type) {
	case *tele.Photo:
		if c.photoErr != nil {
			return nil, c.photoErr
		}
		c.posted = append(c.posted, "photo")
	default:
		if c.textErr != nil {
			return nil, c.textErr
		}
		c.posted = append(c.posted, "text")
	}
	return &tele.Message{ID: len(c.posted)}, nil
}

func (c *channelSender) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.posted...)
}

type imageRenderer struct{}

func (imageRenderer) Render(_ context.Context, o offer.Offer) offer.Payload {
	return offer.Payload{Caption: "<b>" + o.Title + "</b>", Image: []byte{0x89, 'P', 'N', 'G'}}
}

func deliveryPipeline(t *testing.T, pub pipeline.Publisher, sendTimeout time.Duration) (*pipeline.Pipeline, storage.Store) {
	t.Helper()
	st := storage.NewMemory()
	_, err := st.InsertIfNew(context.Background(), offer.Offer{
		Title: "Headphones", Link: "https://shop.test/p/1", CreatedAt: time.Now(),
	})
	require.NoError(t, err)
	p := pipeline.New(
		pipeline.Deps{Store: st, Publisher: pub, Renderer: imageRenderer{}},
		pipeline.Options{Target: "@deals", SendTimeout: sendTimeout},
		nil,
	)
	return p, st
}

func TestPublisherAwaitsSlowSend(t *testing.T) {
	t.Parallel()
	api := &channelSender{delay: 150 * time.Millisecond}
	p := newPublisher(api, 0, nilLog())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, p.SendPhoto(ctx, "@deals", []byte{1}, "c"))
	assert.Equal(t, []string{"photo"}, api.snapshot())
}

func TestPublisherClassifiesOutcome(t *testing.T) {
	t.Parallel()
	reset := fmt.Errorf("telebot: %w", &url.Error{
		Op: "Post", URL: "https://api.telegram.org/bot/sendPhoto", Err: errors.New("read: connection reset by peer"),
	})
	refused := fmt.Errorf("telebot: %w", &url.Error{
		Op: "Post", URL: "https://api.telegram.org/bot/sendPhoto",
		Err: &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")},
	})
	cases := []struct {
		name    string
		err     error
		unknown bool
	}{
		{"reset after dispatch", reset, true},
		{"client timeout", fmt.Errorf("telebot: %w", context.DeadlineExceeded), true},
		{"dial refused", refused, false},
		{"api rejection", errors.New("telegram: Bad Request: chat not found (400)"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newPublisher(&channelSender{photoErr: tc.err}, 0, nilLog())
			err := p.SendPhoto(context.Background(), "@deals", []byte{1}, "c")
			var te *pipeline.TransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tc.unknown, te.Unknown)
			assert.Equal(t, tc.unknown, pipeline.OutcomeUnknown(err))
		})
	}
}

func TestDeliverySlowPhotoPostsOnce(t *testing.T) {
	t.Parallel()
	api := &channelSender{delay: 150 * time.Millisecond}
	p, st := deliveryPipeline(t, newPublisher(api, 0, nilLog()), 50*time.Millisecond)

	rep, err := p.RunDelivery(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.ViaPhoto)
	assert.Zero(t, rep.ViaText)
	assert.Equal(t, []string{"photo"}, api.snapshot())

	stats, err := st.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Sent)
}

func TestDeliveryUnknownPhotoOutcomeSkipsText(t *testing.T) {
	t.Parallel()
	api := &channelSender{photoErr: fmt.Errorf("telebot: %w", &url.Error{
		Op: "Post", URL: "https://api.telegram.org/bot/sendPhoto", Err: context.DeadlineExceeded,
	})}
	p, st := deliveryPipeline(t, newPublisher(api, 0, nilLog()), time.Second)

	rep, err := p.RunDelivery(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	assert.Equal(t, 1, api.calls)
	assert.Empty(t, api.snapshot())

	stats, err := st.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
}

func TestDeliveryRejectedPhotoFallsBackToText(t *testing.T) {
	t.Parallel()
	api := &channelSender{photoErr: errors.New("telegram: Bad Request: IMAGE_PROCESS_FAILED (400)")}
	p, _ := deliveryPipeline(t, newPublisher(api, 0, nilLog()), time.Second)

	rep, err := p.RunDelivery(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.ViaText)
	assert.Equal(t, []string{"text"}, api.snapshot())
}
