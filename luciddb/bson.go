// Copyright 2025 The go-lucid Authors
// This file is part of the go-lucid library.
//
// The go-lucid library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-lucid library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-lucid library. If not, see <http://www.gnu.org/licenses/>.

package luciddb

import (
	"fmt"
	"reflect"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsoncodec"
	"go.mongodb.org/mongo-driver/bson/bsonrw"
	"go.mongodb.org/mongo-driver/bson/bsontype"

	"github.com/lucid-rdp/go-lucid/common"
)

// Hashes and addresses live in the store as their canonical hex strings, so
// shell queries and index prefixes stay human readable. The custom codecs
// below override the default fixed-array encoding.

var (
	tHash    = reflect.TypeOf(common.Hash{})
	tAddress = reflect.TypeOf(common.Address{})
)

func newRegistry() *bsoncodec.Registry {
	reg := bson.NewRegistry()
	reg.RegisterTypeEncoder(tHash, bsoncodec.ValueEncoderFunc(encodeHash))
	reg.RegisterTypeDecoder(tHash, bsoncodec.ValueDecoderFunc(decodeHash))
	reg.RegisterTypeEncoder(tAddress, bsoncodec.ValueEncoderFunc(encodeAddress))
	reg.RegisterTypeDecoder(tAddress, bsoncodec.ValueDecoderFunc(decodeAddress))
	return reg
}

func encodeHash(_ bsoncodec.EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	if !val.IsValid() || val.Type() != tHash {
		return bsoncodec.ValueEncoderError{Name: "encodeHash", Types: []reflect.Type{tHash}, Received: val}
	}
	h := val.Interface().(common.Hash)
	return vw.WriteString(h.Hex())
}

func decodeHash(_ bsoncodec.DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if !val.CanSet() || val.Type() != tHash {
		return bsoncodec.ValueDecoderError{Name: "decodeHash", Types: []reflect.Type{tHash}, Received: val}
	}
	s, err := readHexString(vr)
	if err != nil {
		return err
	}
	val.Set(reflect.ValueOf(common.HexToHash(s)))
	return nil
}

func encodeAddress(_ bsoncodec.EncodeContext, vw bsonrw.ValueWriter, val reflect.Value) error {
	if !val.IsValid() || val.Type() != tAddress {
		return bsoncodec.ValueEncoderError{Name: "encodeAddress", Types: []reflect.Type{tAddress}, Received: val}
	}
	a := val.Interface().(common.Address)
	return vw.WriteString(a.Hex())
}

func decodeAddress(_ bsoncodec.DecodeContext, vr bsonrw.ValueReader, val reflect.Value) error {
	if !val.CanSet() || val.Type() != tAddress {
		return bsoncodec.ValueDecoderError{Name: "decodeAddress", Types: []reflect.Type{tAddress}, Received: val}
	}
	s, err := readHexString(vr)
	if err != nil {
		return err
	}
	val.Set(reflect.ValueOf(common.HexToAddress(s)))
	return nil
}

func readHexString(vr bsonrw.ValueReader) (string, error) {
	switch vr.Type() {
	case bsontype.String:
		return vr.ReadString()
	case bsontype.Null:
		return "", vr.ReadNull()
	default:
		return "", fmt.Errorf("cannot decode %v into a hex string", vr.Type())
	}
}
