// Package events maps EventSub notification payloads onto a closed set of
// typed events. Supporting a new subscription type is one catalog entry.
package events

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
)

// Type is an EventSub subscription type tag.
type Type string

const (
	ChannelUpdate                 Type = "channel.update"
	ChannelFollow                 Type = "channel.follow"
	ChannelSubscribe              Type = "channel.subscribe"
	ChannelSubscriptionEnd        Type = "channel.subscription.end"
	ChannelSubscriptionGift       Type = "channel.subscription.gift"
	ChannelSubscriptionMessage    Type = "channel.subscription.message"
	ChannelCheer                  Type = "channel.cheer"
	ChannelRaid                   Type = "channel.raid"
	ChannelBan                    Type = "channel.ban"
	ChannelUnban                  Type = "channel.unban"
	ChannelPointsRewardAdd        Type = "channel.channel_points_custom_reward.add"
	ChannelPointsRewardUpdate     Type = "channel.channel_points_custom_reward.update"
	ChannelPointsRewardRemove     Type = "channel.channel_points_custom_reward.remove"
	ChannelPointsRedemptionAdd    Type = "channel.channel_points_custom_reward_redemption.add"
	ChannelPointsRedemptionUpdate Type = "channel.channel_points_custom_reward_redemption.update"
	ChannelPollBegin              Type = "channel.poll.begin"
	ChannelPollProgress           Type = "channel.poll.progress"
	ChannelPollEnd                Type = "channel.poll.end"
	ChannelPredictionBegin        Type = "channel.prediction.begin"
	ChannelPredictionProgress     Type = "channel.prediction.progress"
	ChannelPredictionLock         Type = "channel.prediction.lock"
	ChannelPredictionEnd          Type = "channel.prediction.end"
	ChannelCharityDonate          Type = "channel.charity_campaign.donate"
	ChannelCharityStart           Type = "channel.charity_campaign.start"
	ChannelCharityProgress        Type = "channel.charity_campaign.progress"
	ChannelCharityStop            Type = "channel.charity_campaign.stop"
	ChannelShieldModeBegin        Type = "channel.shield_mode.begin"
	ChannelShieldModeEnd          Type = "channel.shield_mode.end"
	ChannelShoutoutCreate         Type = "channel.shoutout.create"
	ChannelShoutoutReceive        Type = "channel.shoutout.receive"
	ChannelGoalBegin              Type = "channel.goal.begin"
	ChannelGoalProgress           Type = "channel.goal.progress"
	ChannelGoalEnd                Type = "channel.goal.end"
	ChannelHypeTrainBegin         Type = "channel.hype_train.begin"
	ChannelHypeTrainProgress      Type = "channel.hype_train.progress"
	ChannelHypeTrainEnd           Type = "channel.hype_train.end"
	StreamOnline                  Type = "stream.online"
	StreamOffline                 Type = "stream.offline"
	UserUpdate                    Type = "user.update"

	// Unrecognized tags events whose type or version is not in the catalog,
	// or whose payload failed to decode.
	Unrecognized Type = "unrecognized"
)

// Condition keys.
const (
	condBroadcaster   = "broadcaster_user_id"
	condModerator     = "moderator_user_id"
	condToBroadcaster = "to_broadcaster_user_id"
	condUser          = "user_id"
)

type decodeFunc func(json.RawMessage) (any, error)

// Entry describes one supported subscription type.
type Entry struct {
	// Versions lists the accepted versions; the first is the default.
	Versions []string
	// Condition lists the condition keys bound to the principal id.
	Condition []string
	decode    decodeFunc
}

func decodeAs[T any]() decodeFunc {
	return func(raw json.RawMessage) (any, error) {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, err
		}
		return &v, nil
	}
}

var (
	broadcasterOnly = []string{condBroadcaster}
	withModerator   = []string{condBroadcaster, condModerator}
)

func decodeFields(raw json.RawMessage) (any, error) {
	var f Fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	return f, nil
}

var catalog = map[Type]Entry{
	ChannelUpdate:                 {Versions: []string{"2", "1"}, Condition: broadcasterOnly, decode: decodeAs[ChannelInfo]()},
	ChannelFollow:                 {Versions: []string{"2"}, Condition: withModerator, decode: decodeAs[Follow]()},
	ChannelSubscribe:              {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeAs[Subscribe]()},
	ChannelSubscriptionEnd:        {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeAs[Subscribe]()},
	ChannelSubscriptionGift:       {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeFields},
	ChannelSubscriptionMessage:    {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeFields},
	ChannelCheer:                  {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeAs[Cheer]()},
	ChannelRaid:                   {Versions: []string{"1"}, Condition: []string{condToBroadcaster}, decode: decodeAs[Raid]()},
	ChannelBan:                    {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeFields},
	ChannelUnban:                  {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeFields},
	ChannelPointsRewardAdd:        {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeFields},
	ChannelPointsRewardUpdate:     {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeFields},
	ChannelPointsRewardRemove:     {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeFields},
	ChannelPointsRedemptionAdd:    {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeAs[PointsRedemption]()},
	ChannelPointsRedemptionUpdate: {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeAs[PointsRedemption]()},
	ChannelPollBegin:              {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeFields},
	ChannelPollProgress:           {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeFields},
	ChannelPollEnd:                {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeFields},
	ChannelPredictionBegin:        {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeFields},
	ChannelPredictionProgress:     {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeFields},
	ChannelPredictionLock:         {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeFields},
	ChannelPredictionEnd:          {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeFields},
	ChannelCharityDonate:          {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeFields},
	ChannelCharityStart:           {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeFields},
	ChannelCharityProgress:        {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeFields},
	ChannelCharityStop:            {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeFields},
	ChannelShieldModeBegin:        {Versions: []string{"1"}, Condition: withModerator, decode: decodeFields},
	ChannelShieldModeEnd:          {Versions: []string{"1"}, Condition: withModerator, decode: decodeFields},
	ChannelShoutoutCreate:         {Versions: []string{"1"}, Condition: withModerator, decode: decodeFields},
	ChannelShoutoutReceive:        {Versions: []string{"1"}, Condition: withModerator, decode: decodeFields},
	ChannelGoalBegin:              {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeFields},
	ChannelGoalProgress:           {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeFields},
	ChannelGoalEnd:                {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeFields},
	ChannelHypeTrainBegin:         {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeFields},
	ChannelHypeTrainProgress:      {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeFields},
	ChannelHypeTrainEnd:           {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeFields},
	StreamOnline:                  {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeAs[Online]()},
	StreamOffline:                 {Versions: []string{"1"}, Condition: broadcasterOnly, decode: decodeAs[Offline]()},
	UserUpdate:                    {Versions: []string{"1"}, Condition: []string{condUser}, decode: decodeFields},
}

// Lookup returns the catalog entry for t.
func Lookup(t Type) (Entry, bool) {
	e, ok := catalog[t]
	return e, ok
}

// Known reports whether t (at version, or any version when version is "")
// is in the catalog.
func Known(t Type, version string) bool {
	e, ok := catalog[t]
	if !ok {
		return false
	}
	return version == "" || slices.Contains(e.Versions, version)
}

// DefaultVersion returns the preferred version for t.
func DefaultVersion(t Type) (string, error) {
	e, ok := catalog[t]
	if !ok {
		return "", fmt.Errorf("events: unknown subscription type %q", t)
	}
	return e.Versions[0], nil
}

// Types lists every catalog tag in sorted order.
func Types() []Type {
	out := make([]Type, 0, len(catalog))
	for t := range catalog {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
