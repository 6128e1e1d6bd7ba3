package office

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf16"

	"github.com/richardlehane/mscfb"
	"golang.org/x/text/encoding/charmap"
)

// Offsets into the Word 97-2003 file information block.
const (
	fibIdent         = 0xA5EC
	fibFlagsOffset   = 0x000A
	fibFcClxOffset   = 0x01A2
	fibLcbClxOffset  = 0x01A6
	fibMinLength     = 0x01AA
	flagEncrypted    = 0x0100
	flagWhichTable   = 0x0200
	pieceCompressed  = 0x40000000
	clxPrcMarker     = 0x01
	clxPcdtMarker    = 0x02
	pieceDescriptorB = 8
)

var (
	errNotWordDocument = errors.New("not a word 97-2003 document")
	errEncryptedDoc    = errors.New("encrypted word document")
	errMalformedClx    = errors.New("malformed piece table")
)

type DocExtractor struct{}

func NewDocExtractor() *DocExtractor {
	return &DocExtractor{}
}

func (e *DocExtractor) ExtractText(_ context.Context, raw []byte) (string, error) {
	compound, err := mscfb.New(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("open compound file: %w", err)
	}

	streams := make(map[string][]byte, 3)
	for entry, err := compound.Next(); err == nil; entry, err = compound.Next() {
		switch entry.Name {
		case "WordDocument", "0Table", "1Table":
			data, readErr := io.ReadAll(entry)
			if readErr != nil {
				return "", fmt.Errorf("read %s stream: %w", entry.Name, readErr)
			}
			streams[entry.Name] = data
		}
	}

	word, ok := streams["WordDocument"]
	if !ok {
		return "", errNotWordDocument
	}
	return textFromStreams(word, streams)
}

// textFromStreams walks the piece table referenced by the FIB and decodes
// every piece, either cp1252 (compressed) or UTF-16LE.
func textFromStreams(word []byte, streams map[string][]byte) (string, error) {
	if len(word) < fibMinLength || binary.LittleEndian.Uint16(word) != fibIdent {
		return "", errNotWordDocument
	}
	flags := binary.LittleEndian.Uint16(word[fibFlagsOffset:])
	if flags&flagEncrypted != 0 {
		return "", errEncryptedDoc
	}
	tableName := "0Table"
	if flags&flagWhichTable != 0 {
		tableName = "1Table"
	}
	table, ok := streams[tableName]
	if !ok {
		return "", fmt.Errorf("missing %s stream", tableName)
	}

	fcClx := int(binary.LittleEndian.Uint32(word[fibFcClxOffset:]))
	lcbClx := int(binary.LittleEndian.Uint32(word[fibLcbClxOffset:]))
	if fcClx < 0 || lcbClx <= 0 || fcClx+lcbClx > len(table) {
		return "", errMalformedClx
	}
	plc, err := findPieceTable(table[fcClx : fcClx+lcbClx])
	if err != nil {
		return "", err
	}

	var out strings.Builder
	pieces := (len(plc) - 4) / (4 + pieceDescriptorB)
	for i := 0; i < pieces; i++ {
		cpStart := binary.LittleEndian.Uint32(plc[i*4:])
		cpEnd := binary.LittleEndian.Uint32(plc[(i+1)*4:])
		if cpEnd < cpStart {
			return "", errMalformedClx
		}
		chars := int(cpEnd - cpStart)
		descriptor := plc[(pieces+1)*4+i*pieceDescriptorB:]
		fc := binary.LittleEndian.Uint32(descriptor[2:])

		if fc&pieceCompressed != 0 {
			offset := int((fc &^ pieceCompressed) / 2)
			if offset+chars > len(word) {
				return "", errMalformedClx
			}
			decoded, err := charmap.Windows1252.NewDecoder().Bytes(word[offset : offset+chars])
			if err != nil {
				return "", fmt.Errorf("decode cp1252 piece: %w", err)
			}
			out.Write(decoded)
			continue
		}

		offset := int(fc)
		if offset+chars*2 > len(word) {
			return "", errMalformedClx
		}
		units := make([]uint16, chars)
		for j := range units {
			units[j] = binary.LittleEndian.Uint16(word[offset+j*2:])
		}
		out.WriteString(string(utf16.Decode(units)))
	}
	return cleanWordText(out.String()), nil
}

func findPieceTable(clx []byte) ([]byte, error) {
	pos := 0
	for pos < len(clx) {
		switch clx[pos] {
		case clxPrcMarker:
			if pos+3 > len(clx) {
				return nil, errMalformedClx
			}
			pos += 3 + int(binary.LittleEndian.Uint16(clx[pos+1:]))
		case clxPcdtMarker:
			if pos+5 > len(clx) {
				return nil, errMalformedClx
			}
			size := int(binary.LittleEndian.Uint32(clx[pos+1:]))
			start := pos + 5
			if size < 4 || start+size > len(clx) || (size-4)%(4+pieceDescriptorB) != 0 {
				return nil, errMalformedClx
			}
			return clx[start : start+size], nil
		default:
			return nil, errMalformedClx
		}
	}
	return nil, errMalformedClx
}

// cleanWordText maps Word control characters to plain text and drops field
// instructions, keeping field results.
func cleanWordText(raw string) string {
	var out strings.Builder
	inFieldCode := 0
	for _, r := range raw {
		switch r {
		case 0x13:
			inFieldCode++
		case 0x14:
			if inFieldCode > 0 {
				inFieldCode--
			}
		case 0x15:
		case '\r', 0x0b, 0x0c:
			if inFieldCode == 0 {
				out.WriteByte('\n')
			}
		case 0x07:
			if inFieldCode == 0 {
				out.WriteByte('\t')
			}
		default:
			if inFieldCode == 0 && (r >= 0x20 || r == '\t' || r == '\n') {
				out.WriteRune(r)
			}
		}
	}
	return strings.TrimSpace(out.String())
}
