// Package domain – post workflow vocabulary.
//
// This file defines the enumerated post statuses, publishing platforms, and
// user roles, plus the authoritative transition table for the post approval
// workflow. The table is the single source of truth consulted by the service
// layer; handlers and clients merely reflect its decisions.
package domain

// Status is the lifecycle state of a post.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusInReview  Status = "in_review"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusPublished Status = "published"
)

// Statuses lists all valid post statuses.
var Statuses = []Status{
	StatusDraft, StatusInReview, StatusApproved, StatusRejected, StatusPublished,
}

// Valid reports whether s is a known post status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusInReview, StatusApproved, StatusRejected, StatusPublished:
		return true
	}
	return false
}

// Role identifies the kind of authenticated user.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleArtist  Role = "artist"
)

// IsStaff reports whether the role is authorized for scheduling and
// publishing actions (admin or manager).
func (r Role) IsStaff() bool { return r == RoleAdmin || r == RoleManager }

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleArtist:
		return true
	}
	return false
}

// Platform is a social publishing destination.
type Platform string

const (
	PlatformInstagramFeed  Platform = "instagram_feed"
	PlatformInstagramStory Platform = "instagram_story"
	PlatformInstagramReel  Platform = "instagram_reel"
	PlatformTikTok         Platform = "tiktok"
	PlatformYouTube        Platform = "youtube"
	PlatformYouTubeShorts  Platform = "youtube_shorts"
	PlatformFacebook       Platform = "facebook"
	PlatformTwitter        Platform = "twitter"
	PlatformSpotify        Platform = "spotify"
)

// Platforms lists all valid publishing destinations.
var Platforms = []Platform{
	PlatformInstagramFeed, PlatformInstagramStory, PlatformInstagramReel,
	PlatformTikTok, PlatformYouTube, PlatformYouTubeShorts,
	PlatformFacebook, PlatformTwitter, PlatformSpotify,
}

// Valid reports whether p is a known platform.
func (p Platform) Valid() bool {
	for _, v := range Platforms {
		if p == v {
			return true
		}
	}
	return false
}

// TransitionActor describes who may perform a given transition.
type TransitionActor int

const (
	// ActorStaff allows any admin or manager.
	ActorStaff TransitionActor = iota
	// ActorOwner allows only the artist that owns the post.
	ActorOwner
)

// Transition is a (from, to) status pair.
type Transition struct {
	From Status
	To   Status
}

// transitionTable holds every legal transition and who may perform it.
// rejected → in_review is the resubmission path: staff edit a rejected post
// and send it back for a fresh review, which clears the rejection reason.
var transitionTable = map[Transition]TransitionActor{
	{StatusDraft, StatusInReview}:     ActorStaff,
	{StatusInReview, StatusApproved}:  ActorOwner,
	{StatusInReview, StatusRejected}:  ActorOwner,
	{StatusApproved, StatusPublished}: ActorStaff,
	{StatusRejected, StatusInReview}:  ActorStaff,
}

// LookupTransition returns the actor required for the (from, to) pair and
// whether the pair is legal at all. Self-transitions and any pair outside
// the table are illegal.
func LookupTransition(from, to Status) (TransitionActor, bool) {
	a, ok := transitionTable[Transition{From: from, To: to}]
	return a, ok
}

// TransitionsInto returns the required actors of every legal transition whose
// target equals to. Used for the idempotent-repeat check: a repeat of the
// exact same transition on a post already in the target state succeeds
// without a write.
func TransitionsInto(to Status) []TransitionActor {
	var out []TransitionActor
	for tr, a := range transitionTable {
		if tr.To == to {
			out = append(out, a)
		}
	}
	return out
}

// MaxRejectionReasonRunes caps the free-text reason supplied on rejection.
const MaxRejectionReasonRunes = 500
