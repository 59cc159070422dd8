package polymarket

// clob.go: snapshot REST de libros para el arranque en frío.
//
// POST /books devuelve cada libro con la misma forma que el mensaje "book" del
// market channel, así que pasa por el mismo decoder y sale como
// domain.FullBookEvent: el host lo aplica con book.Store.Apply igual que un
// snapshot del feed.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/alejandrodnm/polypaper/internal/domain"
	"golang.org/x/sync/errgroup"
)

const (
	booksPath       = "/books"
	batchSize       = 20 // máx token_ids por request a /books
	maxBatchesAlive = 4
)

// FetchOrderBooks pide los libros de tokenIDs en batches concurrentes.
// Devuelve los libros de los batches que respondieron, en orden de batch;
// err agrupa los que fallaron.
func (c *Client) FetchOrderBooks(ctx context.Context, tokenIDs []string) ([]domain.FullBookEvent, error) {
	if len(tokenIDs) == 0 {
		return nil, nil
	}
	batches := splitBatches(tokenIDs, batchSize)
	results := make([][]domain.FullBookEvent, len(batches))
	errs := make([]error, len(batches))

	var g errgroup.Group
	g.SetLimit(maxBatchesAlive)
	for i, batch := range batches {
		g.Go(func() error {
			results[i], errs[i] = c.fetchBooksBatch(ctx, batch)
			if errs[i] != nil {
				errs[i] = fmt.Errorf("batch %d: %w", i, errs[i])
			}
			return nil
		})
	}
	g.Wait()

	var out []domain.FullBookEvent
	for _, r := range results {
		out = append(out, r...)
	}
	err := errors.Join(errs...)
	if err != nil {
		err = fmt.Errorf("clob.FetchOrderBooks: %w", err)
	}
	slog.Debug("clob: order books fetched", "tokens", len(tokenIDs), "books", len(out), "failed", err != nil)
	return out, err
}

// splitBatches divide tokenIDs en slices de tamaño máximo size.
func splitBatches(tokenIDs []string, size int) [][]string {
	if size <= 0 {
		size = batchSize
	}
	batches := make([][]string, 0, (len(tokenIDs)+size-1)/size)
	for i := 0; i < len(tokenIDs); i += size {
		batches = append(batches, tokenIDs[i:min(i+size, len(tokenIDs))])
	}
	return batches
}

func (c *Client) fetchBooksBatch(ctx context.Context, tokenIDs []string) ([]domain.FullBookEvent, error) {
	body := make([]orderBookRequest, len(tokenIDs))
	for i, id := range tokenIDs {
		body[i] = orderBookRequest{TokenID: id}
	}

	var resp lenientList[bookMsg]
	if err := c.call(ctx, &c.books, http.MethodPost, c.clobBase+booksPath, body, &resp); err != nil {
		return nil, err
	}

	out := make([]domain.FullBookEvent, 0, len(resp))
	for _, m := range resp {
		if ev, ok := mapBookMsg(m); ok {
			out = append(out, ev)
		}
	}
	return out, nil
}
