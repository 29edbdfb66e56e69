// Package domain defines the persistence models for users, artists, posts,
// and the artist toolkit. These types are mapped with GORM and form the core
// data layer of the label hub application.
package domain

import (
	"time"

	"gorm.io/gorm"
)

// User represents an authenticated account. Staff (admin/manager) schedule
// and publish posts; artist accounts are linked to a roster entry and
// approve or reject their own content.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Email: unique login identifier.
//   - DisplayName: human-readable name shown in the UI.
//   - Role: "admin", "manager", or "artist".
//   - AvatarURL: optional profile image.
type User struct {
	ID          string         `json:"id"           gorm:"type:char(36);primaryKey"`
	Email       string         `json:"email"        gorm:"type:varchar(255);not null;uniqueIndex"`
	DisplayName string         `json:"display_name" gorm:"type:varchar(255);not null"`
	Role        Role           `json:"role"         gorm:"type:varchar(16);not null;check:role IN ('admin','manager','artist')"`
	AvatarURL   *string        `json:"avatar_url,omitempty" gorm:"type:text"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Artist is a roster member. An artist may be linked to a user account
// (UserID) so the person can log in; unlinked rows are roster-only entries.
// The label itself is represented by a pseudo-artist row with IsLabel set,
// used for internal aggregation and excluded from assignable rosters.
type Artist struct {
	ID           string         `json:"id"          gorm:"type:char(36);primaryKey"`
	UserID       *string        `json:"user_id,omitempty" gorm:"type:char(36);uniqueIndex"`
	Name         string         `json:"name"        gorm:"type:varchar(255);not null"`
	Bio          *string        `json:"bio,omitempty" gorm:"type:text"`
	Color        string         `json:"color"       gorm:"type:varchar(16);not null;default:'#6366F1'"`
	InstagramURL *string        `json:"instagram_url,omitempty" gorm:"type:text"`
	SpotifyURL   *string        `json:"spotify_url,omitempty"   gorm:"type:text"`
	YouTubeURL   *string        `json:"youtube_url,omitempty"   gorm:"type:text"`
	TikTokURL    *string        `json:"tiktok_url,omitempty"    gorm:"type:text"`
	WebsiteURL   *string        `json:"website_url,omitempty"   gorm:"type:text"`
	IsLabel      bool           `json:"is_label"    gorm:"not null;default:false"`
	IsActive     bool           `json:"is_active"   gorm:"not null;default:true"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name for Artist.
func (Artist) TableName() string { return "artists" }

// Post is a unit of schedulable content. Exactly one artist owns a post and
// ownership never transfers. Status mutations go through the transition
// operations in the service layer only.
//
// Invariants:
//   - RejectionReason is non-nil iff Status == rejected.
//   - PublishedAt is non-nil iff Status == published; once set it is never
//     cleared or overwritten.
type Post struct {
	ID              string     `json:"id"       gorm:"type:char(36);primaryKey"`
	Title           string     `json:"title"    gorm:"type:varchar(255);not null"`
	Caption         *string    `json:"caption,omitempty"  gorm:"type:text"`
	Hashtags        *string    `json:"hashtags,omitempty" gorm:"type:text"`
	Platform        Platform   `json:"platform" gorm:"type:varchar(32);not null"`
	Status          Status     `json:"status"   gorm:"type:varchar(16);not null;default:'draft';index:idx_posts_status"`
	ArtistID        string     `json:"artist_id"  gorm:"type:char(36);not null;index:idx_posts_artist"`
	CreatedBy       string     `json:"created_by" gorm:"type:char(36);not null"`
	ScheduledAt     time.Time  `json:"scheduled_at" gorm:"not null;index:idx_posts_scheduled"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	RejectionReason *string    `json:"rejection_reason,omitempty" gorm:"type:varchar(500)"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`

	// Artist is the owning roster member.
	Artist Artist `json:"-" gorm:"foreignKey:ArtistID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Post.
func (Post) TableName() string { return "posts" }

// PostComment is a remark left on a post during review. System comments
// (IsSystem) are written by the workflow itself, e.g. recording a rejection
// reason in the thread.
type PostComment struct {
	ID        string    `json:"id"        gorm:"type:char(36);primaryKey"`
	PostID    string    `json:"post_id"   gorm:"type:char(36);not null;index:idx_post_comments"`
	UserID    string    `json:"user_id"   gorm:"type:char(36);not null"`
	Content   string    `json:"content"   gorm:"type:text;not null"`
	IsSystem  bool      `json:"is_system" gorm:"not null;default:false"`
	CreatedAt time.Time `json:"created_at"`

	Post Post `json:"-" gorm:"foreignKey:PostID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for PostComment.
func (PostComment) TableName() string { return "post_comments" }

// PostMedia references an uploaded file attached to a post. Only the storage
// path is kept here; the bytes live in external object storage and are not
// cascade-deleted when a post is removed.
type PostMedia struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	PostID      string    `json:"post_id"      gorm:"type:char(36);not null;index:idx_post_media"`
	StoragePath string    `json:"storage_path" gorm:"type:text;not null"`
	FileName    string    `json:"file_name"    gorm:"type:varchar(255);not null"`
	MimeType    string    `json:"mime_type"    gorm:"type:varchar(128);not null"`
	FileSize    int64     `json:"file_size"    gorm:"not null"`
	SortOrder   int       `json:"sort_order"   gorm:"not null;default:0"`
	CreatedAt   time.Time `json:"created_at"`

	Post Post `json:"-" gorm:"foreignKey:PostID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for PostMedia.
func (PostMedia) TableName() string { return "post_media" }

// GuidelineSection groups toolkit guidelines (e.g. "Instagram", "Branding").
type GuidelineSection struct {
	ID          string    `json:"id"          gorm:"type:char(36);primaryKey"`
	Title       string    `json:"title"       gorm:"type:varchar(255);not null"`
	Slug        string    `json:"slug"        gorm:"type:varchar(255);not null;uniqueIndex"`
	Description *string   `json:"description,omitempty" gorm:"type:text"`
	Icon        string    `json:"icon"        gorm:"type:varchar(64);not null;default:'book'"`
	SortOrder   int       `json:"sort_order"  gorm:"not null;default:0"`
	CreatedBy   string    `json:"created_by"  gorm:"type:char(36);not null"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for GuidelineSection.
func (GuidelineSection) TableName() string { return "guideline_sections" }

// GuidelineItem is a single toolkit entry. Permanent items always apply;
// campaign items carry a validity window.
type GuidelineItem struct {
	ID         string     `json:"id"         gorm:"type:char(36);primaryKey"`
	SectionID  string     `json:"section_id" gorm:"type:char(36);not null;index:idx_guideline_items"`
	Title      string     `json:"title"      gorm:"type:varchar(255);not null"`
	Content    string     `json:"content"    gorm:"type:text;not null"`
	ItemType   string     `json:"item_type"  gorm:"type:varchar(16);not null;default:'permanent';check:item_type IN ('permanent','campaign')"`
	Priority   int        `json:"priority"   gorm:"not null;default:0;check:priority IN (0,1,2)"`
	ValidFrom  *time.Time `json:"valid_from,omitempty"`
	ValidUntil *time.Time `json:"valid_until,omitempty"`
	CreatedBy  string     `json:"created_by" gorm:"type:char(36);not null"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`

	Section GuidelineSection `json:"-" gorm:"foreignKey:SectionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for GuidelineItem.
func (GuidelineItem) TableName() string { return "guideline_items" }
