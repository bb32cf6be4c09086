package commcell

import (
	"bytes"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/Commvault/cvpysdk-sub002/sdkerrors"
)

// Status is the embedded result a 2xx body reports.
type Status struct {
	Code    int
	Message string
}

// OK reports a zero error code.
func (s Status) OK() bool { return s.Code == 0 }

// Statuser is implemented by every embedded-error shape the web service uses.
// Response structs embed one of the shapes below.
type Statuser interface {
	Status() Status
}

// FlexInt decodes JSON numbers and numeric strings alike; the web service is
// inconsistent about quoting error codes and ids.
type FlexInt int

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		*f = FlexInt(n)
		return nil
	}
	i, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		fl, ferr := strconv.ParseFloat(string(data), 64)
		if ferr != nil {
			return err
		}
		i = int64(fl)
	}
	*f = FlexInt(i)
	return nil
}

// Int returns f as an int.
func (f FlexInt) Int() int { return int(f) }

// String returns the decimal form, which is how ids are placed in URLs.
func (f FlexInt) String() string { return strconv.Itoa(int(f)) }

// TopLevelStatus is {"errorCode": n, "errorMessage": "..."}.
type TopLevelStatus struct {
	ErrorCode    FlexInt `json:"errorCode"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
}

func (s TopLevelStatus) Status() Status {
	return Status{Code: int(s.ErrorCode), Message: s.ErrorMessage}
}

// ErrorBody is the inner object of NestedStatus.
type ErrorBody struct {
	ErrorCode    FlexInt `json:"errorCode"`
	ErrorMessage string  `json:"errorMessage,omitempty"`
	ErrorString  string  `json:"errorString,omitempty"`
}

// NestedStatus is {"error": {"errorCode": n, "errorMessage": "..."}}.
type NestedStatus struct {
	Error *ErrorBody `json:"error,omitempty"`
}

func (s NestedStatus) Status() Status {
	if s.Error == nil {
		return Status{}
	}
	msg := s.Error.ErrorMessage
	if msg == "" {
		msg = s.Error.ErrorString
	}
	return Status{Code: int(s.Error.ErrorCode), Message: msg}
}

// ResponseEntry is one element of ResponseListStatus.
type ResponseEntry struct {
	ErrorCode   FlexInt `json:"errorCode"`
	ErrorString string  `json:"errorString,omitempty"`
	Entity      *struct {
		ID   FlexInt `json:"id,omitempty"`
		Name string  `json:"name,omitempty"`
	} `json:"entity,omitempty"`
}

// ResponseListStatus is {"response": [{"errorCode": n, "errorString": "..."}]}.
// Only the first entry is consulted.
type ResponseListStatus struct {
	Response []ResponseEntry `json:"response,omitempty"`
}

// HasResponse reports whether the list carried at least one entry.
func (s ResponseListStatus) HasResponse() bool { return len(s.Response) > 0 }

func (s ResponseListStatus) Status() Status {
	if len(s.Response) == 0 {
		return Status{}
	}
	return Status{Code: int(s.Response[0].ErrorCode), Message: s.Response[0].ErrorString}
}

// ErrListEntry is one element of ErrListStatus.
type ErrListEntry struct {
	ErrorCode     FlexInt `json:"errorCode"`
	ErrLogMessage string  `json:"errLogMessage,omitempty"`
}

// ErrListStatus is {"errList": [{"errorCode": n, "errLogMessage": "..."}]}.
type ErrListStatus struct {
	ErrList []ErrListEntry `json:"errList,omitempty"`
}

func (s ErrListStatus) Status() Status {
	if len(s.ErrList) == 0 {
		return Status{}
	}
	return Status{Code: int(s.ErrList[0].ErrorCode), Message: s.ErrList[0].ErrLogMessage}
}

// Check returns nil when s reports success, otherwise an application error for
// (module, code) carrying the server's message.
func Check(s Statuser, module, code string) error {
	st := s.Status()
	if st.OK() {
		return nil
	}
	return sdkerrors.Application(module, code, st.Message)
}

// CheckWith is Check with a caller-supplied detail used when the server sent no
// message.
func CheckWith(s Statuser, module, code, fallback string) error {
	st := s.Status()
	if st.OK() {
		return nil
	}
	msg := st.Message
	if msg == "" {
		msg = fallback
	}
	return sdkerrors.Application(module, code, msg)
}
