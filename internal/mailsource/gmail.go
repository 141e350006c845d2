package mailsource

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
)

const gmailUser = "me"

// backfillPageSize keeps backfill requests small enough to stay inside the
// provider's rate limits.
const backfillPageSize = 50

// GmailSource implements Source over the Gmail API. Token refresh is the
// oauth2 client's concern; callers only see cursor-based listing.
type GmailSource struct {
	svc *gmail.Service
}

// NewGmailSource builds a read-only Gmail client from an OAuth credentials
// file and a previously obtained token file.
func NewGmailSource(ctx context.Context, credentialsFile, tokenFile string) (*GmailSource, error) {
	creds, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("read gmail credentials: %w", err)
	}
	cfg, err := google.ConfigFromJSON(creds, gmail.GmailReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("parse gmail credentials: %w", err)
	}

	tok, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("read gmail token: %w", err)
	}

	svc, err := gmail.NewService(ctx, option.WithHTTPClient(cfg.Client(ctx, tok)))
	if err != nil {
		return nil, fmt.Errorf("create gmail service: %w", err)
	}
	return &GmailSource{svc: svc}, nil
}

func tokenFromFile(path string) (*oauth2.Token, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	return tok, json.NewDecoder(f).Decode(tok)
}

func (g *GmailSource) ListNewMessageIDs(ctx context.Context, sinceCursor string) ([]string, string, error) {
	startID, err := strconv.ParseUint(sinceCursor, 10, 64)
	if err != nil {
		return nil, "", fmt.Errorf("invalid history cursor %q: %w", sinceCursor, err)
	}

	var (
		ids       []string
		seen      = map[string]bool{}
		latest    = startID
		pageToken string
	)
	for {
		call := g.svc.Users.History.List(gmailUser).
			StartHistoryId(startID).
			HistoryTypes("messageAdded").
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		resp, err := call.Do()
		if err != nil {
			return nil, "", fmt.Errorf("list gmail history: %w", err)
		}
		for _, h := range resp.History {
			for _, added := range h.MessagesAdded {
				if added.Message == nil || seen[added.Message.Id] {
					continue
				}
				seen[added.Message.Id] = true
				ids = append(ids, added.Message.Id)
			}
		}
		if resp.HistoryId > latest {
			latest = resp.HistoryId
		}
		if resp.NextPageToken == "" {
			break
		}
		pageToken = resp.NextPageToken
	}
	return ids, strconv.FormatUint(latest, 10), nil
}

func (g *GmailSource) ListMessageIDsInRange(ctx context.Context, query, pageCursor string) ([]string, string, error) {
	call := g.svc.Users.Messages.List(gmailUser).
		Q(query).
		MaxResults(backfillPageSize).
		Context(ctx)
	if pageCursor != "" {
		call = call.PageToken(pageCursor)
	}
	resp, err := call.Do()
	if err != nil {
		return nil, "", fmt.Errorf("list gmail messages: %w", err)
	}

	ids := make([]string, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		ids = append(ids, m.Id)
	}
	return ids, resp.NextPageToken, nil
}

func (g *GmailSource) FetchMessageBody(ctx context.Context, id string) (string, map[string]string, error) {
	msg, err := g.svc.Users.Messages.Get(gmailUser, id).Format("full").Context(ctx).Do()
	if err != nil {
		return "", nil, fmt.Errorf("fetch gmail message %s: %w", id, err)
	}

	headers := map[string]string{}
	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			headers[h.Name] = h.Value
		}
	}

	body := plainTextBody(msg.Payload)
	if body == "" {
		body = msg.Snippet
	}
	return body, headers, nil
}

func (g *GmailSource) CurrentCursor(ctx context.Context) (string, error) {
	profile, err := g.svc.Users.GetProfile(gmailUser).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("fetch gmail profile: %w", err)
	}
	return strconv.FormatUint(profile.HistoryId, 10), nil
}

func plainTextBody(part *gmail.MessagePart) string {
	if part == nil {
		return ""
	}
	if part.MimeType == "text/plain" && part.Body != nil && part.Body.Data != "" {
		return decodeBody(part.Body.Data)
	}
	for _, p := range part.Parts {
		if body := plainTextBody(p); body != "" {
			return body
		}
	}
	return ""
}

// decodeBody handles both padded and unpadded base64url payloads; the API
// sends unpadded data but stored fixtures may carry padding.
func decodeBody(data string) string {
	if out, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(out)
	}
	out, err := base64.URLEncoding.DecodeString(data)
	if err != nil {
		return ""
	}
	return string(out)
}
