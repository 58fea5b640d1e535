package showapi

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

var (
	ErrRiskUnsupported = errors.New("unsupported risk challenge type")
	ErrRiskRejected    = errors.New("risk validation rejected")
)

// Geetest 是 gaia-vgate register 下发的极验挑战。
type Geetest struct {
	GT        string `json:"gt"`
	Challenge string `json:"challenge"`
	Token     string `json:"token"`
}

type registerData struct {
	Type    string  `json:"type"`
	Geetest Geetest `json:"geetest"`
}

func (c *Client) RegisterRisk(ctx context.Context, riskParams json.RawMessage) (Geetest, error) {
	if len(riskParams) == 0 || string(riskParams) == "null" {
		return Geetest{}, errors.New("empty risk params")
	}
	resp, err := c.session.Post(ctx, c.api+"/x/gaia-vgate/v1/register", riskParams)
	if err != nil {
		return Geetest{}, errors.Wrap(err, "risk register")
	}
	if !resp.OK() {
		return Geetest{}, errors.Errorf("risk register: http status %d", resp.StatusCode)
	}
	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return Geetest{}, errors.Wrap(err, "risk register")
	}
	if code := env.Code.Or(-1); code != 0 {
		return Geetest{}, &RemoteError{Code: int(code), Message: env.Text()}
	}
	var data registerData
	if err := decodeData(env, &data); err != nil {
		return Geetest{}, errors.Wrap(err, "risk register")
	}
	if data.Type != "geetest" {
		return Geetest{}, errors.Wrapf(ErrRiskUnsupported, "type %q", data.Type)
	}
	g := data.Geetest
	if g.GT == "" || g.Challenge == "" || g.Token == "" {
		return Geetest{}, errors.New("risk register: incomplete geetest params")
	}
	return g, nil
}

type ValidateParams struct {
	Buvid     string `json:"buvid"`
	CSRF      string `json:"csrf"`
	Challenge string `json:"geetest_challenge"`
	Seccode   string `json:"geetest_seccode"`
	Validate  string `json:"geetest_validate"`
	Token     string `json:"token"`
}

func (c *Client) ValidateRisk(ctx context.Context, p ValidateParams) error {
	resp, err := c.session.Post(ctx, c.ValidateURL(), p)
	if err != nil {
		return errors.Wrap(err, "risk validate")
	}
	if !resp.OK() {
		return errors.Errorf("risk validate: http status %d", resp.StatusCode)
	}
	env, err := decodeEnvelope(resp.Body)
	if err != nil {
		return errors.Wrap(err, "risk validate")
	}
	if code := env.Code.Or(-1); code != 0 {
		return &RemoteError{Code: int(code), Message: env.Text()}
	}
	var data struct {
		IsValid bool `json:"is_valid"`
	}
	if err := decodeData(env, &data); err != nil {
		return errors.Wrap(err, "risk validate")
	}
	if !data.IsValid {
		return ErrRiskRejected
	}
	return nil
}
