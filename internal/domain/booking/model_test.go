package booking

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestTimeOfDay_Parse(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"09:00", "09:00", false},
		{"9:05", "09:05", false},
		{"17:45:59", "17:45", false},
		{" 08:30 ", "08:30", false},
		{"24:00", "", true},
		{"noon", "", true},
	}
	for _, tt := range tests {
		got, err := ParseTimeOfDay(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseTimeOfDay(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTimeOfDay(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got.String() != tt.want {
			t.Errorf("ParseTimeOfDay(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestTimeOfDay_AddWraps(t *testing.T) {
	if got := tod("23:30").Add(AppointmentDuration); got != tod("00:30") {
		t.Errorf("expected wrap to 00:30, got %s", got)
	}
	if got := tod("00:15").Add(-30 * time.Minute); got != tod("23:45") {
		t.Errorf("expected wrap to 23:45, got %s", got)
	}
	if got := NewTimeOfDay(25, 0); got != tod("01:00") {
		t.Errorf("expected 01:00, got %s", got)
	}
}

func TestTimeOfDayOf_DropsSeconds(t *testing.T) {
	got := TimeOfDayOf(time.Date(2024, 3, 12, 14, 7, 59, 999, time.UTC))
	if got.Hour() != 14 || got.Minute() != 7 {
		t.Errorf("expected 14:07, got %s", got)
	}
}

func TestDate(t *testing.T) {
	loc := time.FixedZone("UTC+5", 5*3600)
	// 22:00 UTC on the 11th is already the 12th in UTC+5.
	d := NewDate(time.Date(2024, 3, 11, 22, 0, 0, 0, time.UTC).In(loc))
	if d.String() != "2024-03-12" {
		t.Errorf("expected local calendar day, got %s", d)
	}
	if !d.SameDay(day("2024-03-12")) {
		t.Error("expected SameDay to match")
	}
	at := d.At(tod("14:30"), loc)
	if at.Hour() != 14 || at.Minute() != 30 || at.Location() != loc || at.Day() != 12 {
		t.Errorf("unexpected At result %v", at)
	}
	if !(Date{}).IsZero() {
		t.Error("expected zero Date to report IsZero")
	}
}

func TestJSONFormats(t *testing.T) {
	in := `{"speciality":"ENT","date":"2024-03-12","appointment_id":null}`
	var req AvailabilityRequest
	if err := json.Unmarshal([]byte(in), &req); err != nil {
		t.Fatal(err)
	}
	if req.Date.String() != "2024-03-12" {
		t.Errorf("unexpected date %s", req.Date)
	}

	b, err := json.Marshal(Doctor{EntryTime: tod("09:00"), ExitTime: tod("17:30")})
	if err != nil {
		t.Fatal(err)
	}
	s := string(b)
	for _, want := range []string{`"entry_time":"09:00"`, `"exit_time":"17:30"`} {
		if !strings.Contains(s, want) {
			t.Errorf("expected %s in %s", want, s)
		}
	}

	if err := json.Unmarshal([]byte(`{"date":"March 12"}`), &req); err == nil {
		t.Error("expected error for malformed date")
	}
}

func TestAppointmentStatus(t *testing.T) {
	st, err := ParseStatus("Booked")
	if err != nil || st != StatusBooked {
		t.Fatalf("ParseStatus(Booked) = %v, %v", st, err)
	}
	if st.String() != "booked" || st.Label() != "Booked" {
		t.Errorf("unexpected code/label %q/%q", st.String(), st.Label())
	}
	if _, err := ParseStatus("pending"); err == nil {
		t.Error("expected error for unknown status")
	}

	b, _ := json.Marshal(struct {
		S AppointmentStatus `json:"s"`
	}{StatusCancelled})
	if string(b) != `{"s":"cancelled"}` {
		t.Errorf("unexpected encoding %s", b)
	}
}

func TestAppointmentStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to AppointmentStatus
		want     bool
	}{
		{StatusUnknown, StatusBooked, true},
		{StatusBooked, StatusCancelled, true},
		{StatusBooked, StatusRejected, true},
		{StatusBooked, StatusCompleted, true},
		{StatusBooked, StatusBooked, false},
		{StatusCancelled, StatusBooked, false},
		{StatusRejected, StatusCancelled, false},
		{StatusCompleted, StatusCancelled, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
			t.Errorf("%v -> %v = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestValidationError(t *testing.T) {
	verr := &ValidationError{}
	if verr.orNil() != nil {
		t.Error("expected nil for empty validation error")
	}
	verr.add("a is required")
	verr.add("b is invalid")
	if got := verr.Error(); got != "validation failed: a is required; b is invalid" {
		t.Errorf("unexpected message %q", got)
	}
}
