package showapi

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
)

// lenientInt 接受数字或数字字符串，其他形态视为未设置。
type lenientInt struct {
	Value int64
	Set   bool
}

func (v *lenientInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	*v = lenientInt{}
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return nil
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			*v = lenientInt{Value: n, Set: true}
		}
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return nil
	}
	*v = lenientInt{Value: int64(f), Set: true}
	return nil
}

func (v lenientInt) Or(def int64) int64 {
	if v.Set {
		return v.Value
	}
	return def
}

// envelope 是平台通用响应外壳。
type envelope struct {
	Errno   lenientInt      `json:"errno"`
	Code    lenientInt      `json:"code"`
	Msg     string          `json:"msg"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// ResultCode: errno 存在且不为 -1 时以 errno 为准，否则取 code，都没有时为 -1。
func (e envelope) ResultCode() int {
	if errno := e.Errno.Or(-1); errno != -1 {
		return int(errno)
	}
	return int(e.Code.Or(-1))
}

func (e envelope) Text() string {
	if e.Msg != "" {
		return e.Msg
	}
	if e.Message != "" {
		return e.Message
	}
	return "未知错误"
}

func decodeEnvelope(body []byte) (envelope, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return envelope{}, errors.Wrap(err, "decode envelope")
	}
	return env, nil
}

// decodeData 解码 data 字段，data 为空时保持 out 的零值。
func decodeData(env envelope, out any) error {
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	return errors.Wrap(json.Unmarshal(env.Data, out), "decode data")
}

// RemoteError 表示平台返回了非零业务码。
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return "remote code " + strconv.Itoa(e.Code) + ": " + e.Message
}
