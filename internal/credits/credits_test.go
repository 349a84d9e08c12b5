package credits

import "testing"

func TestProrate(t *testing.T) {
	cases := []struct {
		name                          string
		requested, returned, reserved int
		actual, refund                int
	}{
		{"partial delivery floors", 120, 90, 400, 300, 100},
		{"full delivery keeps reservation", 10, 10, 100, 100, 0},
		{"nothing delivered refunds all", 10, 0, 100, 0, 100},
		{"over-delivery clamps to requested", 10, 15, 100, 100, 0},
		{"floor never favors the service", 3, 1, 100, 33, 67},
		{"negative returned treated as zero", 10, -5, 100, 0, 100},
		{"zero requested settles in full", 0, 5, 100, 100, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			actual, refund := Prorate(tc.requested, tc.returned, tc.reserved)
			if actual != tc.actual || refund != tc.refund {
				t.Fatalf("Prorate(%d, %d, %d) = (%d, %d), want (%d, %d)",
					tc.requested, tc.returned, tc.reserved, actual, refund, tc.actual, tc.refund)
			}
			if actual+refund != max(tc.reserved, 0) {
				t.Fatalf("actual %d + refund %d must equal the reservation %d", actual, refund, tc.reserved)
			}
		})
	}
}

func TestReservation(t *testing.T) {
	cases := []struct {
		requested, pageSize, perPage int
		want                         int
	}{
		{30, 30, 100, 100},
		{31, 30, 100, 200},
		{1, 30, 100, 100},
		{90, 30, 100, 300},
		{0, 30, 100, 0},
		{30, 0, 100, 0},
	}
	for _, tc := range cases {
		if got := Reservation(tc.requested, tc.pageSize, tc.perPage); got != tc.want {
			t.Errorf("Reservation(%d, %d, %d) = %d, want %d",
				tc.requested, tc.pageSize, tc.perPage, got, tc.want)
		}
	}
}
