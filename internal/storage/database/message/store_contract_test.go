package message

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"clinic-chat/internal/chat"
)

var base = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

func textMessage(appointmentID, senderID string, role chat.Role, body string, at time.Time) *chat.Message {
	return &chat.Message{
		AppointmentID: appointmentID,
		SenderID:      senderID,
		SenderRole:    role,
		Kind:          chat.KindText,
		Body:          body,
		CreatedAt:     at,
	}
}

func mustAppend(t *testing.T, s chat.Store, m *chat.Message) *chat.Message {
	t.Helper()
	stored, _, err := s.Append(context.Background(), m)
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	return stored
}

// runStoreContract 所有存儲實作都必須通過的行為測試.
func runStoreContract(t *testing.T, newStore func(t *testing.T) chat.Store) {
	t.Run("冪等寫入", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		m := textMessage("a1", "P", chat.RolePatient, "Hello", base)
		m.ClientCorrelationID = "c1"

		first, created, err := s.Append(ctx, m)
		if err != nil || !created {
			t.Fatalf("第一次寫入應建立訊息: created=%v err=%v", created, err)
		}
		second, created, err := s.Append(ctx, m)
		if err != nil {
			t.Fatalf("重試不應回傳錯誤: %v", err)
		}
		if created {
			t.Error("重試不應建立新訊息")
		}
		if first.ID != second.ID {
			t.Errorf("兩次寫入應回傳相同 ID: %s != %s", first.ID, second.ID)
		}

		page, err := s.Page(ctx, "a1", chat.PageQuery{Limit: 10})
		if err != nil {
			t.Fatal(err)
		}
		if len(page.Messages) != 1 {
			t.Fatalf("預期 1 筆訊息，實際 %d", len(page.Messages))
		}
		if page.Messages[0].Read {
			t.Error("新訊息應為未讀")
		}

		other := textMessage("a1", "D", chat.RoleDoctor, "Hi", base.Add(time.Second))
		other.ClientCorrelationID = "c1"
		if _, created, _ := s.Append(ctx, other); !created {
			t.Error("不同發送者使用相同 correlation ID 應建立新訊息")
		}

		mustAppend(t, s, textMessage("a1", "P", chat.RolePatient, "no id", base.Add(2*time.Second)))
		mustAppend(t, s, textMessage("a1", "P", chat.RolePatient, "no id", base.Add(3*time.Second)))
		page, _ = s.Page(ctx, "a1", chat.PageQuery{Limit: 10})
		if len(page.Messages) != 4 {
			t.Errorf("沒有 correlation ID 的訊息不受唯一限制，預期 4 筆，實際 %d", len(page.Messages))
		}
	})

	t.Run("分頁完整性", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i := 0; i < 100; i++ {
			mustAppend(t, s, textMessage("a1", "P", chat.RolePatient, fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Second)))
		}

		first, err := s.Page(ctx, "a1", chat.PageQuery{Limit: 50})
		if err != nil {
			t.Fatal(err)
		}
		if len(first.Messages) != 50 || !first.HasMore {
			t.Fatalf("第一頁預期 50 筆且 hasMore，實際 %d/%v", len(first.Messages), first.HasMore)
		}
		if first.Messages[0].Body != "m99" || first.Messages[49].Body != "m50" {
			t.Errorf("第一頁應為最新的 50 筆: %s..%s", first.Messages[0].Body, first.Messages[49].Body)
		}

		second, err := s.Page(ctx, "a1", chat.PageQuery{
			Limit:  50,
			Before: chat.Before{Time: first.Cursor.Timestamp, ID: first.Cursor.ID},
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(second.Messages) != 50 || second.HasMore {
			t.Fatalf("第二頁預期 50 筆且無更多，實際 %d/%v", len(second.Messages), second.HasMore)
		}
		if second.Messages[0].Body != "m49" || second.Messages[49].Body != "m0" {
			t.Errorf("第二頁內容錯誤: %s..%s", second.Messages[0].Body, second.Messages[49].Body)
		}

		for _, limit := range []int{1, 7, 33} {
			seen := make(map[string]bool)
			var before chat.Before
			var last time.Time
			for {
				page, err := s.Page(ctx, "a1", chat.PageQuery{Limit: limit, Before: before})
				if err != nil {
					t.Fatal(err)
				}
				for _, m := range page.Messages {
					if seen[m.ID] {
						t.Fatalf("limit=%d 出現重複訊息 %s", limit, m.ID)
					}
					if !last.IsZero() && !m.CreatedAt.Before(last) {
						t.Fatalf("limit=%d 時間未嚴格遞減", limit)
					}
					seen[m.ID] = true
					last = m.CreatedAt
				}
				if !page.HasMore {
					break
				}
				before = chat.Before{Time: page.Cursor.Timestamp, ID: page.Cursor.ID}
			}
			if len(seen) != 100 {
				t.Errorf("limit=%d 預期取回 100 筆，實際 %d", limit, len(seen))
			}
		}
	})

	t.Run("時間起點為嚴格早於", func(t *testing.T) {
		s := newStore(t)
		for i := 0; i < 5; i++ {
			mustAppend(t, s, textMessage("a1", "P", chat.RolePatient, fmt.Sprintf("m%d", i), base.Add(time.Duration(i)*time.Minute)))
		}
		page, err := s.Page(context.Background(), "a1", chat.PageQuery{Limit: 10, Before: chat.Before{Time: base.Add(2 * time.Minute)}})
		if err != nil {
			t.Fatal(err)
		}
		if len(page.Messages) != 2 || page.Messages[0].Body != "m1" || page.HasMore {
			t.Errorf("預期 m1、m0，實際 %d 筆 hasMore=%v", len(page.Messages), page.HasMore)
		}
	})

	t.Run("相同時間以 ID 排序", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i := 0; i < 10; i++ {
			mustAppend(t, s, textMessage("a1", "P", chat.RolePatient, fmt.Sprintf("m%d", i), base))
		}
		seen := make(map[string]bool)
		var before chat.Before
		for pages := 0; pages < 10; pages++ {
			page, err := s.Page(ctx, "a1", chat.PageQuery{Limit: 3, Before: before})
			if err != nil {
				t.Fatal(err)
			}
			for i, m := range page.Messages {
				if i > 0 && page.Messages[i-1].ID < m.ID {
					t.Fatal("相同時間時應依 ID 倒序")
				}
				seen[m.ID] = true
			}
			if !page.HasMore {
				break
			}
			before = chat.Before{Time: page.Cursor.Timestamp, ID: page.Cursor.ID}
		}
		if len(seen) != 10 {
			t.Errorf("時間相同的訊息不應遺漏，預期 10 筆，實際 %d", len(seen))
		}
	})

	t.Run("空頁沒有游標", func(t *testing.T) {
		page, err := newStore(t).Page(context.Background(), "empty", chat.PageQuery{})
		if err != nil {
			t.Fatal(err)
		}
		if page.Cursor != nil || page.HasMore || len(page.Messages) != 0 {
			t.Errorf("空頁結果錯誤: %+v", page)
		}
		if page.Limit != 50 {
			t.Errorf("預設 limit 應為 50，實際 %d", page.Limit)
		}
	})

	t.Run("已讀只翻轉一次", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		for i := 0; i < 3; i++ {
			mustAppend(t, s, textMessage("a1", "P", chat.RolePatient, "p", base.Add(time.Duration(i)*time.Second)))
		}
		for i := 0; i < 2; i++ {
			mustAppend(t, s, textMessage("a1", "D", chat.RoleDoctor, "d", base.Add(time.Duration(10+i)*time.Second)))
		}

		n, err := s.MarkRead(ctx, "a1", chat.RoleDoctor, base.Add(time.Hour))
		if err != nil || n != 3 {
			t.Fatalf("醫師讀取應標記 3 筆，實際 %d (err=%v)", n, err)
		}
		n, _ = s.MarkRead(ctx, "a1", chat.RoleDoctor, base.Add(2*time.Hour))
		if n != 0 {
			t.Errorf("重複標記應為 0 筆，實際 %d", n)
		}
		n, _ = s.MarkRead(ctx, "a1", chat.RolePatient, base.Add(time.Hour))
		if n != 2 {
			t.Errorf("病患讀取應標記 2 筆，實際 %d", n)
		}

		page, _ := s.Page(ctx, "a1", chat.PageQuery{Limit: 10})
		for _, m := range page.Messages {
			if !m.Read || m.ReadAt == nil {
				t.Fatalf("訊息 %s 應為已讀", m.ID)
			}
			if m.SenderRole == chat.RolePatient && !m.ReadAt.Equal(base.Add(time.Hour)) {
				t.Errorf("readAt 不應被第二次標記覆蓋: %v", m.ReadAt)
			}
		}
	})

	t.Run("未讀數彙總", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		fixture := []struct {
			appointmentID string
			role          chat.Role
			count         int
		}{
			{"a1", chat.RolePatient, 3},
			{"a1", chat.RoleDoctor, 2},
			{"a2", chat.RolePatient, 4},
			{"a3", chat.RoleDoctor, 5},
		}
		at := base
		for _, f := range fixture {
			sender := "P"
			if f.role == chat.RoleDoctor {
				sender = "D"
			}
			for i := 0; i < f.count; i++ {
				at = at.Add(time.Second)
				mustAppend(t, s, textMessage(f.appointmentID, sender, f.role, "x", at))
			}
		}
		// 醫師已讀 a2，病患訊息在 a2 全部已讀
		if _, err := s.MarkRead(ctx, "a2", chat.RoleDoctor, at); err != nil {
			t.Fatal(err)
		}

		ids := []string{"a1", "a2", "a3"}
		perAppointment, err := s.UnreadByAppointment(ctx, ids, chat.RoleDoctor)
		if err != nil {
			t.Fatal(err)
		}
		want := map[string]int64{"a1": 3}
		if len(perAppointment) != len(want) || perAppointment["a1"] != 3 {
			t.Errorf("醫師每預約未讀數錯誤: %v", perAppointment)
		}

		var tally int64
		for _, id := range ids {
			tally += perAppointment[id]
		}
		total, err := s.UnreadCount(ctx, ids, chat.RoleDoctor)
		if err != nil {
			t.Fatal(err)
		}
		if total != tally {
			t.Errorf("總未讀數 %d 應等於各預約加總 %d", total, tally)
		}

		patientTotal, _ := s.UnreadCount(ctx, ids, chat.RolePatient)
		if patientTotal != 7 {
			t.Errorf("病患未讀數預期 7，實際 %d", patientTotal)
		}
		if n, _ := s.UnreadCount(ctx, nil, chat.RolePatient); n != 0 {
			t.Errorf("空集合未讀數應為 0，實際 %d", n)
		}
	})

	t.Run("最新訊息與單筆查詢", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		last, err := s.LastMessage(ctx, "a1")
		if err != nil || last != nil {
			t.Fatalf("沒有訊息時應回傳 nil: %v %v", last, err)
		}
		mustAppend(t, s, textMessage("a1", "P", chat.RolePatient, "old", base))
		newest := mustAppend(t, s, textMessage("a1", "D", chat.RoleDoctor, "new", base.Add(time.Minute)))

		last, err = s.LastMessage(ctx, "a1")
		if err != nil || last == nil || last.ID != newest.ID {
			t.Fatalf("最新訊息錯誤: %+v %v", last, err)
		}

		got, err := s.MessageByID(ctx, newest.ID)
		if err != nil || got.Body != "new" {
			t.Fatalf("MessageByID 錯誤: %+v %v", got, err)
		}
		for _, id := range []string{"000000000000000000000000", "not-an-id"} {
			if _, err := s.MessageByID(ctx, id); !errors.Is(err, chat.ErrMessageNotFound) {
				t.Errorf("%s 預期 ErrMessageNotFound，實際 %v", id, err)
			}
		}
	})

	t.Run("附件欄位保留", func(t *testing.T) {
		s := newStore(t)
		m := &chat.Message{
			AppointmentID: "a1",
			SenderID:      "P",
			SenderRole:    chat.RolePatient,
			Kind:          chat.KindFile,
			Attachment: &chat.Attachment{
				URL:      "https://cdn.example/report.pdf",
				MimeType: "application/pdf",
				Size:     2048,
				Filename: "report.pdf",
			},
			CreatedAt: base,
		}
		stored := mustAppend(t, s, m)
		got, err := s.MessageByID(context.Background(), stored.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.Attachment == nil || got.Attachment.Filename != "report.pdf" || got.Attachment.Size != 2048 {
			t.Errorf("附件欄位遺失: %+v", got.Attachment)
		}
	})
}
