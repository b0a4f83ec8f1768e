package logging

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fyrsmithlabs/insightd/internal/config"
	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// maxPatternLen bounds redaction regex size.
const maxPatternLen = 200

const redacted = "[REDACTED]"

type secretMarshaler config.Secret

func (s secretMarshaler) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("value", config.Secret(s).Masked())
	enc.AddBool("set", config.Secret(s).IsSet())
	return nil
}

// Secret logs a config.Secret under key as {"value": mask, "set": bool}.
func Secret(key string, val config.Secret) zap.Field {
	return zap.Object(key, secretMarshaler(val))
}

// RedactedString logs only the length of val.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, config.Secret(val).Masked())
}

// redactor holds compiled redaction rules. Values under a listed key are
// replaced whole; pattern matches inside any other string are replaced in
// place so the surrounding text stays readable.
type redactor struct {
	keys     map[string]bool
	patterns []*regexp.Regexp
}

func newRedactor(cfg RedactionConfig) (*redactor, error) {
	r := &redactor{keys: make(map[string]bool, len(cfg.Fields))}
	for _, f := range cfg.Fields {
		r.keys[strings.ToLower(f)] = true
	}
	for _, p := range cfg.Patterns {
		if len(p) > maxPatternLen {
			return nil, fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLen, p)
		}
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redaction pattern %q: %w", p, err)
		}
		r.patterns = append(r.patterns, re)
	}
	return r, nil
}

func (r *redactor) sensitive(key string) bool {
	return r.keys[strings.ToLower(key)]
}

func (r *redactor) scrub(s string) string {
	for _, re := range r.patterns {
		s = re.ReplaceAllString(s, redacted)
	}
	return s
}

func (r *redactor) addString(enc zapcore.ObjectEncoder, key, val string) {
	if r.sensitive(key) {
		enc.AddString(key, redacted)
		return
	}
	enc.AddString(key, r.scrub(val))
}

func (r *redactor) addByteString(enc zapcore.ObjectEncoder, key string, val []byte) {
	if r.sensitive(key) {
		enc.AddString(key, redacted)
		return
	}
	enc.AddString(key, r.scrub(string(val)))
}

func (r *redactor) addBinary(enc zapcore.ObjectEncoder, key string, val []byte) {
	if r.sensitive(key) {
		enc.AddString(key, redacted)
		return
	}
	enc.AddBinary(key, val)
}

func (r *redactor) addReflected(enc zapcore.ObjectEncoder, key string, val interface{}) error {
	if r.sensitive(key) {
		enc.AddString(key, redacted)
		return nil
	}
	if m, ok := val.(map[string]string); ok {
		return enc.AddObject(key, &redactedObject{obj: stringMapMarshaler(m), r: r})
	}
	return enc.AddReflected(key, val)
}

func (r *redactor) addArray(enc zapcore.ObjectEncoder, key string, arr zapcore.ArrayMarshaler) error {
	if r.sensitive(key) {
		enc.AddString(key, redacted)
		return nil
	}
	return enc.AddArray(key, arr)
}

func (r *redactor) addObject(enc zapcore.ObjectEncoder, key string, obj zapcore.ObjectMarshaler) error {
	if r.sensitive(key) {
		enc.AddString(key, redacted)
		return nil
	}
	return enc.AddObject(key, &redactedObject{obj: obj, r: r})
}

// redactedObject applies the rules to the fields of a nested object, so
// record properties logged as an object are covered too.
type redactedObject struct {
	obj zapcore.ObjectMarshaler
	r   *redactor
}

func (o *redactedObject) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	return o.obj.MarshalLogObject(&objectRedactor{ObjectEncoder: enc, r: o.r})
}

type objectRedactor struct {
	zapcore.ObjectEncoder
	r *redactor
}

func (o *objectRedactor) AddString(key, val string) { o.r.addString(o.ObjectEncoder, key, val) }
func (o *objectRedactor) AddByteString(key string, val []byte) {
	o.r.addByteString(o.ObjectEncoder, key, val)
}
func (o *objectRedactor) AddBinary(key string, val []byte) { o.r.addBinary(o.ObjectEncoder, key, val) }
func (o *objectRedactor) AddReflected(key string, val interface{}) error {
	return o.r.addReflected(o.ObjectEncoder, key, val)
}
func (o *objectRedactor) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	return o.r.addArray(o.ObjectEncoder, key, arr)
}
func (o *objectRedactor) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	return o.r.addObject(o.ObjectEncoder, key, obj)
}

type stringMapMarshaler map[string]string

func (m stringMapMarshaler) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	for k, v := range m {
		enc.AddString(k, v)
	}
	return nil
}

// RedactingEncoder wraps a zapcore.Encoder and masks sensitive values in
// the message and in every field, including fields of nested objects.
type RedactingEncoder struct {
	zapcore.Encoder
	r *redactor
}

// NewRedactingEncoder wraps base with the rules in cfg. A disabled config
// returns a pass-through wrapper without compiling anything.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	if !cfg.Enabled {
		return &RedactingEncoder{Encoder: base}, nil
	}
	r, err := newRedactor(cfg)
	if err != nil {
		return nil, err
	}
	return &RedactingEncoder{Encoder: base, r: r}, nil
}

func (e *RedactingEncoder) AddString(key, val string) {
	if e.r == nil {
		e.Encoder.AddString(key, val)
		return
	}
	e.r.addString(e.Encoder, key, val)
}

func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if e.r == nil {
		e.Encoder.AddByteString(key, val)
		return
	}
	e.r.addByteString(e.Encoder, key, val)
}

func (e *RedactingEncoder) AddBinary(key string, val []byte) {
	if e.r == nil {
		e.Encoder.AddBinary(key, val)
		return
	}
	e.r.addBinary(e.Encoder, key, val)
}

func (e *RedactingEncoder) AddReflected(key string, val interface{}) error {
	if e.r == nil {
		return e.Encoder.AddReflected(key, val)
	}
	return e.r.addReflected(e.Encoder, key, val)
}

func (e *RedactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.r == nil {
		return e.Encoder.AddArray(key, arr)
	}
	return e.r.addArray(e.Encoder, key, arr)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.r == nil {
		return e.Encoder.AddObject(key, obj)
	}
	return e.r.addObject(e.Encoder, key, obj)
}

// EncodeEntry routes per-entry fields through the redacting Add* methods.
// The wrapped encoder's EncodeEntry would otherwise add them directly.
func (e *RedactingEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	if e.r == nil {
		return e.Encoder.EncodeEntry(ent, fields)
	}
	clone := e.Clone().(*RedactingEncoder)
	for i := range fields {
		fields[i].AddTo(clone)
	}
	ent.Message = e.r.scrub(ent.Message)
	return clone.Encoder.EncodeEntry(ent, nil)
}

func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{Encoder: e.Encoder.Clone(), r: e.r}
}
