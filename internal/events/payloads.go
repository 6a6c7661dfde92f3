package events

import "time"

// Broadcaster identifies the channel an event belongs to.
type Broadcaster struct {
	BroadcasterUserID    string `json:"broadcaster_user_id"`
	BroadcasterUserLogin string `json:"broadcaster_user_login"`
	BroadcasterUserName  string `json:"broadcaster_user_name"`
}

// User identifies the viewer that caused an event.
type User struct {
	UserID    string `json:"user_id"`
	UserLogin string `json:"user_login"`
	UserName  string `json:"user_name"`
}

// Reward is the custom channel points reward attached to a redemption.
type Reward struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Cost   int    `json:"cost"`
	Prompt string `json:"prompt"`
}

// PointsRedemption is channel.channel_points_custom_reward_redemption.add
// and .update.
type PointsRedemption struct {
	Broadcaster
	User
	ID         string    `json:"id"`
	UserInput  string    `json:"user_input"`
	Status     string    `json:"status"`
	Reward     Reward    `json:"reward"`
	RedeemedAt time.Time `json:"redeemed_at"`
}

// Follow is channel.follow.
type Follow struct {
	Broadcaster
	User
	FollowedAt time.Time `json:"followed_at"`
}

type Subscribe struct {
	Broadcaster
	User
	Tier   string `json:"tier"`
	IsGift bool   `json:"is_gift"`
}

type Cheer struct {
	Broadcaster
	IsAnonymous bool   `json:"is_anonymous"`
	UserID      string `json:"user_id"`
	UserLogin   string `json:"user_login"`
	UserName    string `json:"user_name"`
	Message     string `json:"message"`
	Bits        int    `json:"bits"`
}

type Raid struct {
	FromBroadcasterUserID    string `json:"from_broadcaster_user_id"`
	FromBroadcasterUserLogin string `json:"from_broadcaster_user_login"`
	FromBroadcasterUserName  string `json:"from_broadcaster_user_name"`
	ToBroadcasterUserID      string `json:"to_broadcaster_user_id"`
	ToBroadcasterUserLogin   string `json:"to_broadcaster_user_login"`
	ToBroadcasterUserName    string `json:"to_broadcaster_user_name"`
	Viewers                  int    `json:"viewers"`
}

// Online is stream.online.
type Online struct {
	Broadcaster
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	StartedAt time.Time `json:"started_at"`
}

type Offline struct {
	Broadcaster
}

// ChannelInfo is channel.update.
type ChannelInfo struct {
	Broadcaster
	Title                       string   `json:"title"`
	Language                    string   `json:"language"`
	CategoryID                  string   `json:"category_id"`
	CategoryName                string   `json:"category_name"`
	ContentClassificationLabels []string `json:"content_classification_labels"`
}

// Fields is the payload of catalog types without a dedicated struct.
type Fields map[string]any
