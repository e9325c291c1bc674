package directory

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// 預約目錄 gRPC 服務；請求與回應皆為 google.protobuf.Struct.
const (
	ServiceName            = "clinic.directory.v1.AppointmentDirectory"
	methodGetAppointment   = "/" + ServiceName + "/GetAppointment"
	methodListAppointments = "/" + ServiceName + "/ListAppointments"
)

// GRPCClient 透過 gRPC 查詢外部預約目錄.
type GRPCClient struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

// NewGRPCClient 創建預約目錄 gRPC 客戶端.
func NewGRPCClient(conn grpc.ClientConnInterface, timeout time.Duration) *GRPCClient {
	return &GRPCClient{conn: conn, timeout: timeout}
}

func (c *GRPCClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.timeout)
}

// GetAppointment 取得預約.
func (c *GRPCClient) GetAppointment(ctx context.Context, id string) (*Appointment, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := structpb.NewStruct(map[string]interface{}{"id": id})
	if err != nil {
		return nil, err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodGetAppointment, req, resp); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("directory GetAppointment: %w", err)
	}
	return decodeAppointment(resp)
}

// ListAppointments 列出操作者參與的預約.
func (c *GRPCClient) ListAppointments(ctx context.Context, principalID, role string) ([]*Appointment, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := structpb.NewStruct(map[string]interface{}{
		"principalId": principalID,
		"role":        role,
	})
	if err != nil {
		return nil, err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, methodListAppointments, req, resp); err != nil {
		return nil, fmt.Errorf("directory ListAppointments: %w", err)
	}

	values := resp.GetFields()["appointments"].GetListValue().GetValues()
	out := make([]*Appointment, 0, len(values))
	for _, v := range values {
		a, err := decodeAppointment(v.GetStructValue())
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

func encodeAppointment(a *Appointment) map[string]interface{} {
	return map[string]interface{}{
		"id":          a.ID,
		"patient":     encodeParty(a.Patient),
		"doctor":      encodeParty(a.Doctor),
		"scheduledAt": formatTime(a.ScheduledAt),
		"createdAt":   formatTime(a.CreatedAt),
	}
}

func encodeParty(p Party) map[string]interface{} {
	return map[string]interface{}{"id": p.ID, "name": p.Name, "avatar": p.Avatar}
}

func decodeAppointment(s *structpb.Struct) (*Appointment, error) {
	f := s.GetFields()
	a := &Appointment{
		ID:      f["id"].GetStringValue(),
		Patient: decodeParty(f["patient"].GetStructValue()),
		Doctor:  decodeParty(f["doctor"].GetStructValue()),
	}
	if a.ID == "" || a.Patient.ID == "" || a.Doctor.ID == "" {
		return nil, fmt.Errorf("directory: malformed appointment payload")
	}
	var err error
	if a.ScheduledAt, err = parseTime(f["scheduledAt"].GetStringValue()); err != nil {
		return nil, err
	}
	if a.CreatedAt, err = parseTime(f["createdAt"].GetStringValue()); err != nil {
		return nil, err
	}
	return a, nil
}

func decodeParty(s *structpb.Struct) Party {
	f := s.GetFields()
	return Party{
		ID:     f["id"].GetStringValue(),
		Name:   f["name"].GetStringValue(),
		Avatar: f["avatar"].GetStringValue(),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("directory: bad timestamp %q: %w", s, err)
	}
	return t, nil
}
