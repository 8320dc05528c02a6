package instagram

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	errs "igfollowers/pkg/errors"
	"igfollowers/pkg/source"
)

// challenge is a pending verification at apiPath
type challenge struct {
	client  *Client
	apiPath string
	methods []string
}

func (c *Client) newChallengeError(ctx context.Context, apiPath, message string) error {
	ch := &challenge{client: c, apiPath: apiPath}

	var resp challengeResponse
	if err := c.do(ctx, http.MethodGet, apiPath, nil, &resp); err != nil {
		c.logger.WithError(err).Warn("Could not fetch challenge details")
	} else {
		if resp.StepData.Email != "" {
			ch.methods = append(ch.methods, "email")
		}
		if resp.StepData.PhoneNumber != "" {
			ch.methods = append(ch.methods, "sms")
		}
		if len(ch.methods) == 0 && resp.StepName == "select_verify_method" {
			ch.methods = []string{"email", "sms"}
		}
	}

	c.logger.InfoWithFields("Login challenge required", map[string]interface{}{
		"api_path": apiPath,
		"methods":  ch.methods,
	})
	return &source.ChallengeError{Challenge: ch, Message: message}
}

func (ch *challenge) Methods() []string {
	return append([]string(nil), ch.methods...)
}

// Select asks the platform to send a verification through method
func (ch *challenge) Select(ctx context.Context, method string) error {
	choice, ok := challengeChoices[method]
	if !ok {
		return fmt.Errorf("unsupported verification method %q", method)
	}

	form := url.Values{}
	form.Set("choice", choice)
	var resp challengeResponse
	if err := ch.client.do(ctx, http.MethodPost, ch.apiPath, form, &resp); err != nil {
		return err
	}
	ch.client.logger.WithField("step", resp.StepName).Info("Verification method selected")
	return nil
}

// Confirm logs in again once the verification was approved out of band
func (ch *challenge) Confirm(ctx context.Context) (source.Client, error) {
	err := ch.client.login(ctx)
	if _, pending := source.AsChallenge(err); pending {
		return nil, errs.New(errs.KindChallengeUnresolved, 0, "verification still pending")
	}
	if err != nil {
		return nil, err
	}
	return ch.client, nil
}
