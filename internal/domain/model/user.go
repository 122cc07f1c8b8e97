package model

import "time"

// User is a GitHub-authenticated account. Identity comes from the OAuth
// callback (owned by the auth layer); this core only reads the access token
// and treats an empty token as "cannot be synced".
type User struct {
	ID          int64
	GitHubID    string
	Username    string
	Email       string
	AvatarURL   string
	AccessToken string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasToken reports whether the user holds a usable access credential.
func (u *User) HasToken() bool {
	return u.AccessToken != ""
}

// UserProfile is the normalized profile returned by the GitHub API.
// Only the fields the core actually consumes are mapped.
type UserProfile struct {
	Login     string
	Email     string
	AvatarURL string
}
