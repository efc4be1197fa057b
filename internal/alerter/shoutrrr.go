package alerter

import (
	"context"
	"io"
	"log"
	"slices"
	"time"

	shoutrrr "github.com/nicholas-fedor/shoutrrr"
	router "github.com/nicholas-fedor/shoutrrr/pkg/router"
	stypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/watchtowerhq/watchtower-go/internal/errors"
)

// ShoutrrrProvider fans an alert caption out to extra notification channels
// (Discord, ntfy, Pushover and anything else shoutrrr speaks). Text only,
// the thumbnail travels over channels that support attachments.
type ShoutrrrProvider struct {
	urls   []string
	sender *router.ServiceRouter
}

// NewShoutrrrProvider validates the service URLs and builds a single sender
// shared by every dispatch.
func NewShoutrrrProvider(urls []string, timeout time.Duration) (*ShoutrrrProvider, error) {
	sp := &ShoutrrrProvider{urls: slices.Clone(urls)}
	if len(sp.urls) == 0 {
		return nil, errors.Newf("at least one shoutrrr URL is required").
			Component("alerter").
			Category(errors.CategoryValidation).
			Build()
	}
	sender, err := shoutrrr.CreateSender(sp.urls...)
	if err != nil {
		return nil, errors.New(err).
			Component("alerter").
			Category(errors.CategoryValidation).
			Context("provider", "shoutrrr").
			Build()
	}
	if timeout > 0 {
		sender.Timeout = timeout
	}
	sender.SetLogger(log.New(io.Discard, "", 0))
	sp.sender = sender
	return sp, nil
}

func (s *ShoutrrrProvider) Name() string { return "shoutrrr" }

// Send delivers the caption to every configured URL. The router handles its
// own timeouts.
func (s *ShoutrrrProvider) Send(ctx context.Context, alert Alert) error {
	_ = ctx

	params := stypes.Params{}
	params.SetTitle("Watchtower: " + string(alert.Category))
	errs := s.sender.Send(alert.Caption, &params)
	for _, e := range errs {
		if e != nil {
			return errors.New(e).
				Component("alerter").
				Category(errors.CategoryNotification).
				Context("provider", "shoutrrr").
				Build()
		}
	}
	return nil
}
