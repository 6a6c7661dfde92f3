package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brooks-builds/twitch-eventsub/internal/protocol"
)

type viewer struct {
	id, login, name string
}

var viewers = []viewer{
	{"1001", "cozy_otter", "Cozy_Otter"},
	{"1002", "pixelpilot", "PixelPilot"},
	{"1003", "rustacean42", "Rustacean42"},
	{"1004", "gopher_gal", "Gopher_Gal"},
	{"1005", "lurkmaster", "LurkMaster"},
}

type reward struct {
	title  string
	cost   int
	prompt string
	input  []string
}

var rewards = []reward{
	{"Hydrate", 100, "Make the streamer drink water", nil},
	{"Ask a Question", 500, "Ask anything about the code", []string{"why not tokio?", "what editor is that?", "how long have you been coding?"}},
	{"Pick the Music", 1000, "Choose the next song", []string{"lofi", "synthwave", "chiptune"}},
	{"Stretch Break", 250, "Time to stand up", nil},
}

var cheerMessages = []string{"Cheer100 great stream", "Cheer50 fix the bug!", "Cheer1 hi", "Cheer500 hype"}

// Generator produces plausible event payloads for subscriptions.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewGenerator seeds the payload generator. The same seed yields the same
// sequence of payloads.
func NewGenerator(seed int64) *Generator {
	return &Generator{rng: rand.New(rand.NewSource(seed))}
}

// Event returns an event payload matching sub's type. Unknown types get a
// payload carrying only the broadcaster.
func (g *Generator) Event(sub protocol.Subscription) json.RawMessage {
	g.mu.Lock()
	defer g.mu.Unlock()

	bid := sub.Condition["broadcaster_user_id"]
	if bid == "" {
		bid = sub.Condition["to_broadcaster_user_id"]
	}
	if bid == "" {
		bid = sub.Condition["user_id"]
	}
	v := viewers[g.rng.Intn(len(viewers))]
	now := time.Now().UTC()

	ev := map[string]any{
		"broadcaster_user_id":    bid,
		"broadcaster_user_login": "mockstreamer",
		"broadcaster_user_name":  "MockStreamer",
	}
	withUser := func() {
		ev["user_id"] = v.id
		ev["user_login"] = v.login
		ev["user_name"] = v.name
	}

	switch sub.Type {
	case "channel.channel_points_custom_reward_redemption.add":
		r := rewards[g.rng.Intn(len(rewards))]
		withUser()
		input := ""
		if len(r.input) > 0 {
			input = r.input[g.rng.Intn(len(r.input))]
		}
		ev["id"] = uuid.NewString()
		ev["user_input"] = input
		ev["status"] = "unfulfilled"
		ev["reward"] = map[string]any{"id": uuid.NewString(), "title": r.title, "cost": r.cost, "prompt": r.prompt}
		ev["redeemed_at"] = now
	case "channel.follow":
		withUser()
		ev["followed_at"] = now
	case "channel.subscribe":
		withUser()
		ev["tier"] = fmt.Sprintf("%d000", 1+g.rng.Intn(3))
		ev["is_gift"] = g.rng.Intn(4) == 0
	case "channel.cheer":
		anonymous := g.rng.Intn(5) == 0
		if !anonymous {
			withUser()
		}
		ev["is_anonymous"] = anonymous
		ev["message"] = cheerMessages[g.rng.Intn(len(cheerMessages))]
		ev["bits"] = []int{1, 50, 100, 500}[g.rng.Intn(4)]
	case "channel.raid":
		ev = map[string]any{
			"from_broadcaster_user_id":    v.id,
			"from_broadcaster_user_login": v.login,
			"from_broadcaster_user_name":  v.name,
			"to_broadcaster_user_id":      bid,
			"to_broadcaster_user_login":   "mockstreamer",
			"to_broadcaster_user_name":    "MockStreamer",
			"viewers":                     1 + g.rng.Intn(200),
		}
	case "stream.online":
		ev["id"] = uuid.NewString()
		ev["type"] = "live"
		ev["started_at"] = now
	case "stream.offline":
	case "channel.update":
		ev["title"] = "Building an EventSub client in Go"
		ev["language"] = "en"
		ev["category_id"] = "1469308723"
		ev["category_name"] = "Software and Game Development"
		ev["content_classification_labels"] = []string{}
	default:
		withUser()
	}

	data, _ := json.Marshal(ev)
	return data
}

// runGenerator emits one notification per interval to a random subscription of a
// random connected session.
func (s *Server) runGenerator(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c, sub, ok := s.pickSubscription()
			if !ok {
				continue
			}
			c.enqueue(NotificationMessage(sub, s.gen.Event(sub)))
		}
	}
}
