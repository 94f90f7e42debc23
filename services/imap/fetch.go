package imap

import (
	"context"
	"fmt"
	"io"

	goimap "github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"

	"github.com/mailpilot/mailpilot/internal/models"
	"github.com/mailpilot/mailpilot/internal/tracing"
)

const inboxFolder = "INBOX"

type fetchedMessage struct {
	uid uint32
	raw []byte
}

type fetchResult struct {
	messages    []fetchedMessage
	lastUID     uint32
	uidValidity string
}

// fetchNewMessages selects INBOX and retrieves every message above the stored
// cursor. Three cursor situations are handled here:
//   - first poll of an account: the cursor is initialized to the current end
//     of the mailbox and nothing is fetched, so pre-existing mail is never
//     replayed into the pipeline;
//   - UIDVALIDITY changed: the server renumbered the mailbox, old UIDs mean
//     nothing anymore. Treated exactly like a first poll: adopt the new
//     token, re-baseline at the current end of the mailbox, ingest nothing;
//   - steady state: fetch (lastUID, *] and advance the cursor to the highest
//     UID seen.
func (s *IMAPService) fetchNewMessages(ctx context.Context, c *client.Client, account *models.EmailAccount) (*fetchResult, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "IMAPService.fetchNewMessages")
	defer span.Finish()
	tracing.SetDefaultServiceSpanTags(ctx, span)
	tracing.TagAccount(span, account.ID)

	mbox, err := c.Select(inboxFolder, false)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, errors.Wrap(err, "failed to select INBOX")
	}

	uidValidity := fmt.Sprintf("%d", mbox.UidValidity)
	span.SetTag("uidvalidity", uidValidity)
	span.SetTag("cursor.uid", account.LastUID)

	// First poll, or the mailbox was renumbered: establish a baseline without
	// ingesting historic mail.
	if account.UIDValidity != uidValidity {
		if account.UIDValidity != "" {
			span.SetTag("uidvalidity.changed", true)
		}
		lastUID, err := s.baselineUID(ctx, c, mbox)
		if err != nil {
			tracing.TraceErr(span, err)
			return nil, err
		}
		span.SetTag("baseline", true)
		span.LogKV("baseline.uid", lastUID)
		return &fetchResult{lastUID: lastUID, uidValidity: uidValidity}, nil
	}

	lastUID := account.LastUID

	uids, err := s.searchNewUIDs(ctx, c, lastUID)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}
	span.LogKV("uids.found", len(uids))

	if len(uids) == 0 {
		return &fetchResult{lastUID: lastUID, uidValidity: uidValidity}, nil
	}

	messages, maxUID, err := s.fetchBodies(ctx, c, uids)
	if err != nil {
		tracing.TraceErr(span, err)
		return nil, err
	}

	if maxUID > lastUID {
		lastUID = maxUID
	}

	s.markSeen(ctx, c, uids)

	return &fetchResult{messages: messages, lastUID: lastUID, uidValidity: uidValidity}, nil
}

// baselineUID determines the highest UID currently in the mailbox. UIDNEXT
// from SELECT is authoritative when present; an empty or quirky server answer
// falls back to searching all messages.
func (s *IMAPService) baselineUID(ctx context.Context, c *client.Client, mbox *goimap.MailboxStatus) (uint32, error) {
	if mbox.UidNext > 0 {
		return mbox.UidNext - 1, nil
	}

	criteria := goimap.NewSearchCriteria()
	uids, err := c.UidSearch(criteria)
	if err != nil {
		return 0, errors.Wrap(err, "baseline UID search failed")
	}

	var max uint32
	for _, uid := range uids {
		if uid > max {
			max = uid
		}
	}
	return max, nil
}

func (s *IMAPService) searchNewUIDs(ctx context.Context, c *client.Client, lastUID uint32) ([]uint32, error) {
	criteria := goimap.NewSearchCriteria()
	criteria.Uid = new(goimap.SeqSet)
	criteria.Uid.AddRange(lastUID+1, 0)

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, errors.Wrap(err, "UID search failed")
	}

	// Servers may return UIDs at or below the cursor for an open-ended
	// range; filter them out so the fetch stays strictly incremental.
	filtered := uids[:0]
	for _, uid := range uids {
		if uid > lastUID {
			filtered = append(filtered, uid)
		}
	}
	return filtered, nil
}

func (s *IMAPService) fetchBodies(ctx context.Context, c *client.Client, uids []uint32) ([]fetchedMessage, uint32, error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "IMAPService.fetchBodies")
	defer span.Finish()
	span.LogKV("uids.count", len(uids))

	seqSet := new(goimap.SeqSet)
	seqSet.AddNum(uids...)

	// BODY.PEEK keeps the \Seen flag untouched; flags are set explicitly
	// after a successful fetch.
	section := &goimap.BodySectionName{Peek: true}
	items := []goimap.FetchItem{section.FetchItem(), goimap.FetchUid}

	messagesCh := make(chan *goimap.Message, 10)
	fetchDone := make(chan error, 1)
	go func() {
		fetchDone <- c.UidFetch(seqSet, items, messagesCh)
	}()

	var fetched []fetchedMessage
	var maxUID uint32
	for msg := range messagesCh {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		raw, err := io.ReadAll(body)
		if err != nil {
			tracing.TraceErr(span, errors.Wrapf(err, "uid %d", msg.Uid))
			continue
		}
		fetched = append(fetched, fetchedMessage{uid: msg.Uid, raw: raw})
		if msg.Uid > maxUID {
			maxUID = msg.Uid
		}
	}

	if err := <-fetchDone; err != nil {
		tracing.TraceErr(span, err)
		return nil, 0, errors.Wrap(err, "UID fetch failed")
	}
	return fetched, maxUID, nil
}

// markSeen flags fetched messages as read. Best effort: a failure here only
// means the mail client shows them unread, ingestion already succeeded.
func (s *IMAPService) markSeen(ctx context.Context, c *client.Client, uids []uint32) {
	span, _ := opentracing.StartSpanFromContext(ctx, "IMAPService.markSeen")
	defer span.Finish()

	seqSet := new(goimap.SeqSet)
	seqSet.AddNum(uids...)

	item := goimap.FormatFlagsOp(goimap.AddFlags, true)
	flags := []interface{}{goimap.SeenFlag}
	if err := c.UidStore(seqSet, item, flags, nil); err != nil {
		tracing.TraceErr(span, err)
	}
}
