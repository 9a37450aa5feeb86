package protocol

import (
	"context"
	"errors"
	"strings"

	"github.com/marmos91/mediabus/pkg/bus"
)

// ToBusError converts err into the reply error the server sends. Catalog
// errors keep their code through the generation's error name.
func ToBusError(gen Generation, err error) *bus.Error {
	var be *bus.Error
	if errors.As(err, &be) {
		return be
	}
	code := CodeOf(err)
	return bus.NewError(gen.ErrorName(code), err.Error())
}

// FromBusError converts an error returned by a bus call into a catalog
// error for path. Standard bus errors map onto the closest catalog code.
func FromBusError(path string, err error) error {
	if err == nil {
		return nil
	}
	var ce *Error
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: ErrTransportUnavailable, Message: "call abandoned", Path: path, Err: err}
	}

	var be *bus.Error
	if !errors.As(err, &be) {
		return &Error{Code: ErrTransportUnavailable, Message: "bus failure", Path: path, Err: err}
	}

	if IsErrorName(be.Name) {
		name := be.Name[strings.LastIndex(be.Name, ".")+1:]
		if code, ok := ParseErrorCode(name); ok {
			return &Error{Code: code, Message: be.Message, Path: path}
		}
	}

	code := ErrBackend
	switch be.Name {
	case bus.ErrNameServiceUnknown, bus.ErrNameNameHasNoOwner:
		code = ErrProviderNotFound
	case bus.ErrNameNoReply, bus.ErrNameDisconnected, bus.ErrNameLimitsExceeded:
		code = ErrTransportUnavailable
	case bus.ErrNameUnknownMethod, bus.ErrNameUnknownInterface:
		code = ErrNotSupported
	case bus.ErrNameUnknownObject:
		code = ErrInvalidPath
	case bus.ErrNameInvalidArgs, bus.ErrNameUnknownProperty:
		code = ErrUnknownProperty
	}
	return &Error{Code: code, Message: be.Message, Path: path, Err: be}
}
