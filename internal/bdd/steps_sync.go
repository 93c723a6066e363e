package bdd

import (
	"context"
	"fmt"
	"time"

	"github.com/chirino/conversation-sync/internal/convsync"
	"github.com/chirino/conversation-sync/internal/model"
	"github.com/chirino/conversation-sync/internal/testutil/cucumber"
	"github.com/cucumber/godog"
)

func init() {
	cucumber.StepModules = append(cucumber.StepModules, func(ctx *godog.ScenarioContext, s *cucumber.TestScenario) {
		steps := &syncSteps{s: s}
		ctx.Step(`^the sync client saves thread "([^"]*)" titled "([^"]*)" with items:$`, steps.saveThread)
		ctx.Step(`^the sync client loads (\d+) conversations?$`, steps.loadCount)
		ctx.Step(`^the sync client deletes thread "([^"]*)"$`, steps.deleteThread)
		ctx.Step(`^local thread "([^"]*)" has (\d+) items with a linear parent chain$`, steps.linearChain)
	})
}

type syncSteps struct {
	s      *cucumber.TestScenario
	loaded []model.Conversation
}

func (st *syncSteps) service() *convsync.Service {
	remote := convsync.NewHTTPRemote(st.s.Suite.APIURL, "/api", 10*time.Second)
	opts := convsync.DefaultOptions()
	opts.ServerSide = true
	opts.ConnectionString = "configured"
	return convsync.NewService(remote, opts)
}

// saveThread reads a table with "query" and "answer" columns; each row becomes
// one item, one second apart.
func (st *syncSteps) saveThread(id, title string, table *godog.Table) error {
	threadID, err := st.s.Expand(id)
	if err != nil {
		return err
	}
	if len(table.Rows) == 0 {
		return fmt.Errorf("items table is empty")
	}
	header := map[string]int{}
	for i, cell := range table.Rows[0].Cells {
		header[cell.Value] = i
	}

	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	thread := model.Thread{ID: threadID, Title: title, CreatedAt: base}
	var items []model.Item
	for n, row := range table.Rows[1:] {
		item := model.Item{
			ID:        fmt.Sprintf("%s-item-%d", threadID, n),
			ThreadID:  threadID,
			CreatedAt: base.Add(time.Duration(n+1) * time.Second),
		}
		if i, ok := header["query"]; ok {
			item.Query = row.Cells[i].Value
		}
		if i, ok := header["answer"]; ok && row.Cells[i].Value != "" {
			item.Answer = &model.Answer{Text: row.Cells[i].Value}
		}
		items = append(items, item)
	}

	svc := st.service()
	defer svc.Close(context.Background())
	svc.Save(context.Background(), thread, items)
	return nil
}

func (st *syncSteps) loadCount(expected int) error {
	svc := st.service()
	defer svc.Close(context.Background())
	st.loaded = svc.Load(context.Background())
	if len(st.loaded) != expected {
		return fmt.Errorf("expected %d conversations, loaded %d", expected, len(st.loaded))
	}
	return nil
}

func (st *syncSteps) deleteThread(id string) error {
	threadID, err := st.s.Expand(id)
	if err != nil {
		return err
	}
	svc := st.service()
	defer svc.Close(context.Background())
	svc.Delete(context.Background(), threadID)
	return nil
}

func (st *syncSteps) linearChain(id string, count int) error {
	threadID, err := st.s.Expand(id)
	if err != nil {
		return err
	}
	for _, conv := range st.loaded {
		if conv.ThreadID != threadID {
			continue
		}
		thread, items := convsync.ToLocalFormat(conv)
		if thread.Pinned || thread.PinnedAt != nil {
			return fmt.Errorf("loaded thread should not be pinned")
		}
		if len(items) != count {
			return fmt.Errorf("expected %d items, got %d", count, len(items))
		}
		for i, item := range items {
			switch {
			case i == 0 && item.ParentID != nil:
				return fmt.Errorf("first item should have no parent")
			case i > 0 && (item.ParentID == nil || *item.ParentID != items[i-1].ID):
				return fmt.Errorf("item %d should point at %s", i, items[i-1].ID)
			}
		}
		return nil
	}
	return fmt.Errorf("thread %s was not loaded", threadID)
}
