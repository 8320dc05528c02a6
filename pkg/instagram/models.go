package instagram

import (
	"bytes"
	"encoding/json"

	"igfollowers/pkg/source"
)

// ID decodes identifiers the API sends as either numbers or strings
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// apiError is the error envelope the API returns with non-2xx responses
type apiError struct {
	Status             string `json:"status"`
	Message            string `json:"message"`
	ErrorType          string `json:"error_type"`
	InvalidCredentials bool   `json:"invalid_credentials"`
	Spam               bool   `json:"spam"`
	Challenge          *struct {
		APIPath string `json:"api_path"`
	} `json:"challenge"`
}

type loginResponse struct {
	Status       string `json:"status"`
	LoggedInUser struct {
		PK       ID     `json:"pk"`
		Username string `json:"username"`
	} `json:"logged_in_user"`
}

type challengeResponse struct {
	Status   string `json:"status"`
	StepName string `json:"step_name"`
	StepData struct {
		Choice      string `json:"choice"`
		Email       string `json:"email"`
		PhoneNumber string `json:"phone_number"`
	} `json:"step_data"`
	Action string `json:"action"`
}

// User is a full profile as returned by the user info endpoints
type User struct {
	PK                 ID     `json:"pk"`
	Username           string `json:"username"`
	FullName           string `json:"full_name"`
	Biography          string `json:"biography"`
	FollowerCount      int    `json:"follower_count"`
	FollowingCount     int    `json:"following_count"`
	MediaCount         int    `json:"media_count"`
	IsPrivate          bool   `json:"is_private"`
	IsVerified         bool   `json:"is_verified"`
	ExternalURL        string `json:"external_url"`
	PublicEmail        string `json:"public_email"`
	ContactPhoneNumber string `json:"contact_phone_number"`
	Category           string `json:"category"`
	IsBusiness         bool   `json:"is_business"`
}

type userResponse struct {
	Status string `json:"status"`
	User   User   `json:"user"`
}

// UserShort is a follower entry on a followers page
type UserShort struct {
	PK         ID     `json:"pk"`
	Username   string `json:"username"`
	FullName   string `json:"full_name"`
	IsPrivate  bool   `json:"is_private"`
	IsVerified bool   `json:"is_verified"`
}

type followersResponse struct {
	Status    string      `json:"status"`
	Users     []UserShort `json:"users"`
	NextMaxID ID          `json:"next_max_id"`
	BigList   bool        `json:"big_list"`
	PageSize  int         `json:"page_size"`
}

func (u User) profile() *source.Profile {
	return &source.Profile{
		ID:                string(u.PK),
		Username:          u.Username,
		FullName:          u.FullName,
		Biography:         u.Biography,
		FollowerCount:     u.FollowerCount,
		FollowingCount:    u.FollowingCount,
		PostCount:         u.MediaCount,
		IsPrivate:         u.IsPrivate,
		IsVerified:        u.IsVerified,
		ExternalURL:       u.ExternalURL,
		Email:             u.PublicEmail,
		Phone:             u.ContactPhoneNumber,
		BusinessCategory:  u.Category,
		IsBusinessAccount: u.IsBusiness,
	}
}

func (u UserShort) ref() source.FollowerRef {
	return source.FollowerRef{
		ID:         string(u.PK),
		Username:   u.Username,
		FullName:   u.FullName,
		IsPrivate:  u.IsPrivate,
		IsVerified: u.IsVerified,
	}
}

// verification choices as the challenge endpoint numbers them
var challengeChoices = map[string]string{
	"sms":   "0",
	"email": "1",
}
