// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package gmail

import (
	"context"
	"net/http"
	"strings"

	"github.com/HangSHI/SmartEventAdder/internal/message"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	gmail_api "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	ReadonlyScope = gmail_api.GmailReadonlyScope

	// See https://developers.google.com/gmail/api/v1/reference/quota
	quotaUnitsMessagesGet     = 5
	quotaUnitsPerMessagesList = 5

	quotaUnitsPerSecond = 250
	rateLimitPerSecond  = quotaUnitsPerSecond * 0.8
	rateLimitBurst      = quotaUnitsPerSecond
)

var (
	// ErrMessageNotFound reports that the provider has no message
	// for the requested identifier.
	ErrMessageNotFound = errors.New("gmail message not found")
)

// Service provides access to messages stored in Google's GMail
// system.
type Service struct {
	service *gmail_api.Service
	limiter *rate.Limiter
	log     *zap.Logger
}

func New(ctx context.Context, client *http.Client, log *zap.Logger) (*Service, error) {
	s, err := gmail_api.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, err
	}
	l := rate.NewLimiter(rateLimitPerSecond, rateLimitBurst)
	return &Service{service: s, limiter: l, log: log}, nil
}

// FetchByID retrieves one message in full format and maps it to the
// canonical handle.  Not-found responses surface as
// ErrMessageNotFound; rate limit pushback is retried after the
// limiter refills.
func (s *Service) FetchByID(ctx context.Context, id string) (*message.CanonicalMessage, error) {
	call := gmail_api.NewUsersMessagesService(s.service).Get("me", id).
		Context(ctx).Format("full")
	msg, err := s.getMessage(ctx, call)
	if err != nil {
		return nil, errors.Wrapf(err, "getting message %v from gmail", id)
	}
	return canonical(msg), nil
}

// SearchByHeader finds API message ids whose RFC 2822 Message-ID
// header equals the given value.  Zero or more ids are returned in
// provider order; the caller decides what multiple hits mean.
func (s *Service) SearchByHeader(ctx context.Context, header string) ([]string, error) {
	if err := s.limiter.WaitN(ctx, quotaUnitsPerMessagesList); err != nil {
		return nil, err
	}
	q := "rfc822msgid:" + strings.Trim(strings.TrimSpace(header), "<>")
	res, err := gmail_api.NewUsersMessagesService(s.service).List("me").
		Q(q).MaxResults(10).Context(ctx).Do()
	if err != nil {
		return nil, errors.Wrapf(err, "searching gmail for %q", q)
	}
	ids := make([]string, 0, len(res.Messages))
	for _, m := range res.Messages {
		ids = append(ids, m.Id)
	}
	s.log.Debug("gmail header search",
		zap.String("query", q),
		zap.Int("hits", len(ids)))
	return ids, nil
}

func (s *Service) getMessage(ctx context.Context, call *gmail_api.UsersMessagesGetCall) (*gmail_api.Message, error) {
	for {
		if err := s.limiter.WaitN(ctx, quotaUnitsMessagesGet); err != nil {
			return nil, err
		}
		msg, err := call.Do()
		if err == nil {
			return msg, nil
		}

		switch cause := errors.Cause(err).(type) {
		case *googleapi.Error:
			if cause.Code == http.StatusTooManyRequests {
				continue // retry
			}
			if cause.Code == http.StatusNotFound {
				for _, item := range cause.Errors {
					if item.Reason == "notFound" {
						err = ErrMessageNotFound
					}
				}
			}
		}
		return nil, err
	}
}

func canonical(msg *gmail_api.Message) *message.CanonicalMessage {
	m := &message.CanonicalMessage{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
	}
	if msg.Payload == nil {
		return m
	}
	for _, h := range msg.Payload.Headers {
		switch strings.ToLower(h.Name) {
		case "subject":
			m.Subject = h.Value
		case "from":
			m.From = h.Value
		case "date":
			m.Date = h.Value
		case "message-id":
			m.HeaderID = h.Value
		}
	}
	m.Payload = toPart(msg.Payload)
	return m
}

func toPart(p *gmail_api.MessagePart) *message.Part {
	part := &message.Part{MimeType: p.MimeType}
	if p.Body != nil {
		part.Body = p.Body.Data
	}
	for _, child := range p.Parts {
		part.Parts = append(part.Parts, toPart(child))
	}
	return part
}
