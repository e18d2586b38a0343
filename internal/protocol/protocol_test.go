package protocol

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gonum.org/v1/gonum/spatial/r3"
)

func TestDecodeCommand(t *testing.T) {
	tests := []struct {
		in   string
		want Command
	}{
		{`"Status"`, Status()},
		{`{"Status":null}`, Status()},
		{`{"Status":{}}`, Status()},
		{` "Status" `, Status()},
		{`"Replay"`, Replay("")},
		{`{"Replay":{}}`, Replay("")},
		{`{"Replay":{"data_stream_url":"ws://10.0.0.2:9000/stream"}}`, Replay("ws://10.0.0.2:9000/stream")},
	}
	for _, tt := range tests {
		got, err := DecodeCommand([]byte(tt.in))
		if err != nil {
			t.Errorf("DecodeCommand(%s): %v", tt.in, err)
			continue
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("DecodeCommand(%s) mismatch (-want +got):\n%s", tt.in, diff)
		}
	}
}

func TestDecodeCommandErrors(t *testing.T) {
	for _, in := range []string{
		``,
		`Status`,
		`"Stop"`,
		`{"Foo":{}}`,
		`{}`,
		`{"Status":null,"Replay":null}`,
		`{"Status":{"verbose":true}}`,
		`{"Replay":{"url":"x"}}`,
		`{"Replay":{"data_stream_url":5}}`,
		`42`,
		`[1,2]`,
		`{"Status":`,
	} {
		_, err := DecodeCommand([]byte(in))
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Errorf("DecodeCommand(%q) = %v, want *DecodeError", in, err)
		}
	}
}

func TestEncodeWire(t *testing.T) {
	tests := []struct {
		name string
		v    any
		want string
	}{
		{"status command", Status(), `"Status"`},
		{"replay bare", Replay(""), `"Replay"`},
		{"replay url", Replay("ws://x"), `{"Replay":{"data_stream_url":"ws://x"}}`},
		{"ok", Ok(), `"Ok"`},
		{"close", Close(), `"Close"`},
		{"error", Error("scan in progress"), `{"Error":"scan in progress"}`},
		{"status", StatusResponse(ScannerStatus{Lasers: Lasers{Laser1: true}, MotorSpeed: 15}),
			`{"Status":{"lasers":{"laser_1":true,"laser_2":false},"motor_speed":15}}`},
		{"point cloud", PointCloudResponse(PointCloud{Points: []Point{{1, 2, 3}, {-0.5, 0, 4.25}}}),
			`{"PointCloud":{"points":[[1,2,3],[-0.5,0,4.25]]}}`},
		{"empty point cloud", PointCloudResponse(PointCloud{}), `{"PointCloud":{"points":[]}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []byte
			var err error
			switch v := tt.v.(type) {
			case Command:
				got, err = EncodeCommand(v)
			case Response:
				got, err = EncodeResponse(v)
			}
			if err != nil {
				t.Fatal(err)
			}
			if string(got) != tt.want {
				t.Errorf("encoded = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	commands := []Command{Status(), Replay(""), Replay("http://host/stream")}
	for _, c := range commands {
		data, err := EncodeCommand(c)
		if err != nil {
			t.Fatal(err)
		}
		got, err := DecodeCommand(data)
		if err != nil {
			t.Fatalf("DecodeCommand(%s): %v", data, err)
		}
		if diff := cmp.Diff(c, got); diff != "" {
			t.Errorf("command round trip (-want +got):\n%s", diff)
		}
	}

	responses := []Response{
		Ok(),
		Close(),
		Error(""),
		Errorf("camera: %s", "no more frames"),
		StatusResponse(ScannerStatus{}),
		StatusResponse(ScannerStatus{Lasers: Lasers{Laser1: true, Laser2: true}, MotorSpeed: 355}),
		PointCloudResponse(PointCloud{}),
		PointCloudResponse(NewPointCloud([]r3.Vec{{X: 0.1, Y: -0.2, Z: 0.3}, {X: 1e-9, Y: 123456.789, Z: 0}})),
	}
	for _, r := range responses {
		data, err := EncodeResponse(r)
		if err != nil {
			t.Fatal(err)
		}
		got, err := DecodeResponse(data)
		if err != nil {
			t.Fatalf("DecodeResponse(%s): %v", data, err)
		}
		if diff := cmp.Diff(r, got); diff != "" {
			t.Errorf("response round trip of %s (-want +got):\n%s", data, diff)
		}
	}
}

func TestDecodeResponseErrors(t *testing.T) {
	for _, in := range []string{
		`"Pending"`,
		`{"Ok":null}`,
		`{"Error":5}`,
		`{"Status":null}`,
		`{"PointCloud":{"points":"none"}}`,
		`{"PointCloud":{"pts":[]}}`,
	} {
		if _, err := DecodeResponse([]byte(in)); err == nil {
			t.Errorf("DecodeResponse(%s) succeeded, want error", in)
		}
	}
}

func TestUnknownVariantsDoNotEncode(t *testing.T) {
	if _, err := EncodeCommand(Command{Type: "Stop"}); err == nil {
		t.Error("expected error for unknown command")
	}
	if _, err := EncodeResponse(Response{}); err == nil {
		t.Error("expected error for zero response")
	}
}

func TestNewPointCloud(t *testing.T) {
	pc := NewPointCloud([]r3.Vec{{X: 1, Y: 2, Z: 3}})
	if len(pc.Points) != 1 || pc.Points[0] != (Point{1, 2, 3}) {
		t.Errorf("NewPointCloud = %+v", pc)
	}
	if NewPointCloud(nil).Points != nil {
		t.Error("empty input should give nil points")
	}
	if !Ok().IsTerminal() || !Error("x").IsTerminal() || PointCloudResponse(pc).IsTerminal() {
		t.Error("IsTerminal mismatch")
	}
}
