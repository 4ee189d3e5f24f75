package oplog

import (
	"context"
	"errors"
	"testing"

	"github.com/Crotoconlaptop/bqt-booking/pkg/booking"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLogOperationFields(test *testing.T) {
	test.Parallel()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := New(zap.New(core))

	date, err := booking.NewDate("2025-03-10")
	if err != nil {
		test.Fatalf("date: %v", err)
	}
	partySize, err := booking.NewPartySize(4)
	if err != nil {
		test.Fatalf("party size: %v", err)
	}
	requestID, err := booking.NewRequestID("req-1")
	if err != nil {
		test.Fatalf("request id: %v", err)
	}
	logger.LogOperation(context.Background(), booking.OperationLog{
		Operation: "submit",
		Date:      date,
		PartySize: partySize,
		RequestID: requestID,
		Source:    booking.SourceGuest,
		Status:    "ok",
	})

	entries := logs.All()
	if len(entries) != 1 {
		test.Fatalf("expected one entry, got %d", len(entries))
	}
	entry := entries[0]
	if entry.Level != zapcore.InfoLevel || entry.LoggerName != "booking" {
		test.Fatalf("unexpected entry %+v", entry.Entry)
	}
	fields := entry.ContextMap()
	if fields["date"] != "2025-03-10" || fields["people_count"] != int64(4) || fields["request_id"] != "req-1" || fields["source"] != "guest" {
		test.Fatalf("unexpected fields %v", fields)
	}
	if _, ok := fields["reservation_id"]; ok {
		test.Fatalf("reservation id should be omitted when empty")
	}
}

func TestLogOperationLevels(test *testing.T) {
	test.Parallel()
	date, _ := booking.NewDate("2025-03-10")
	partySize, _ := booking.NewPartySize(300)

	testCases := []struct {
		name      string
		err       error
		wantLevel zapcore.Level
	}{
		{name: "success", err: nil, wantLevel: zapcore.InfoLevel},
		{name: "capacity", err: booking.NewCapacityError(date, partySize, 0), wantLevel: zapcore.InfoLevel},
		{name: "validation", err: booking.ErrInvalidPhone, wantLevel: zapcore.InfoLevel},
		{name: "unavailable", err: booking.MarkUnavailable(errors.New("db down")), wantLevel: zapcore.WarnLevel},
		{name: "unexpected", err: errors.New("boom"), wantLevel: zapcore.ErrorLevel},
	}
	for _, testCase := range testCases {
		test.Run(testCase.name, func(test *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			New(zap.New(core)).LogOperation(context.Background(), booking.OperationLog{Operation: "submit", Error: testCase.err})
			entries := logs.All()
			if len(entries) != 1 || entries[0].Level != testCase.wantLevel {
				test.Fatalf("expected level %s, got %+v", testCase.wantLevel, entries)
			}
		})
	}
}

func TestNilLoggerDiscards(test *testing.T) {
	test.Parallel()
	New(nil).LogOperation(context.Background(), booking.OperationLog{Operation: "submit"})
}
