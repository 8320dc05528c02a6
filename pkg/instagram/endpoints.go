package instagram

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	// DefaultBaseURL is the private API root
	DefaultBaseURL = "https://i.instagram.com/api/v1"

	// DefaultUserAgent is an Android app user agent the private API accepts
	DefaultUserAgent = "Instagram 269.0.0.18.75 Android (26/8.0.0; 480dpi; 1080x1920; OnePlus; 6T Dev; devitron; qcom; en_US; 314665256)"

	// AppID identifies the Android app
	AppID = "567067343352427"

	LoginEndpoint    = "/accounts/login/"
	TimelineEndpoint = "/feed/timeline/"
)

// UsernameInfoPath returns the path of the profile lookup by username
func UsernameInfoPath(username string) string {
	return fmt.Sprintf("/users/%s/usernameinfo/", url.PathEscape(username))
}

// UserInfoPath returns the path of the profile lookup by user id
func UserInfoPath(userID string) string {
	return fmt.Sprintf("/users/%s/info/", url.PathEscape(userID))
}

// FollowersPath returns the path and query of one followers page
func FollowersPath(userID, rankToken, maxID string) string {
	params := url.Values{}
	params.Set("rank_token", rankToken)
	if maxID != "" {
		params.Set("max_id", maxID)
	}
	return fmt.Sprintf("/friendships/%s/followers/?%s", url.PathEscape(userID), params.Encode())
}

// ProfileURL returns the public web profile URL for a user
func ProfileURL(username string) string {
	if username == "" {
		return ""
	}
	return fmt.Sprintf("https://www.instagram.com/%s/", username)
}

// IsValidUsername checks if a username is valid according to Instagram rules
func IsValidUsername(username string) bool {
	if username == "" || len(username) > 30 {
		return false
	}

	// Instagram usernames can only contain letters, numbers, periods, and underscores
	for _, char := range username {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '.' || char == '_') {
			return false
		}
	}

	return true
}

// SanitizeUsername strips a leading @, a profile URL prefix and trailing
// slashes or spaces.
func SanitizeUsername(username string) string {
	username = strings.TrimSpace(username)
	username = strings.TrimPrefix(username, "https://")
	username = strings.TrimPrefix(username, "http://")
	username = strings.TrimPrefix(username, "www.")
	username = strings.TrimPrefix(username, "instagram.com/")
	username = strings.TrimPrefix(username, "@")
	return strings.TrimRight(username, "/ ")
}
