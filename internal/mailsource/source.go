package mailsource

import "context"

// Source abstracts the mail provider. Incremental listing follows an opaque
// cursor; range listing paginates a full historical backfill.
type Source interface {
	// ListNewMessageIDs returns ids newer than sinceCursor plus the cursor
	// to store on success.
	ListNewMessageIDs(ctx context.Context, sinceCursor string) (ids []string, nextCursor string, err error)

	// ListMessageIDsInRange pages through all messages matching query.
	// An empty nextPageCursor means the last page.
	ListMessageIDsInRange(ctx context.Context, query, pageCursor string) (ids []string, nextPageCursor string, err error)

	// FetchMessageBody returns the message text and headers.
	FetchMessageBody(ctx context.Context, id string) (body string, headers map[string]string, err error)

	// CurrentCursor returns the provider's present position, used to seed
	// the checkpoint after a backfill.
	CurrentCursor(ctx context.Context) (string, error)
}
