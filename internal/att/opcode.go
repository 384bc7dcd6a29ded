package att

import "fmt"

// Opcode is the first byte of every ATT PDU.
type Opcode byte

const (
	OpErrorRsp        Opcode = 0x01
	OpExchangeMTUReq  Opcode = 0x02
	OpExchangeMTURsp  Opcode = 0x03
	OpFindInfoReq     Opcode = 0x04
	OpFindByTypeReq   Opcode = 0x06
	OpReadByTypeReq   Opcode = 0x08
	OpReadByTypeRsp   Opcode = 0x09
	OpReadReq         Opcode = 0x0A
	OpReadRsp         Opcode = 0x0B
	OpReadBlobReq     Opcode = 0x0C
	OpReadBlobRsp     Opcode = 0x0D
	OpReadMultipleReq Opcode = 0x0E
	OpReadByGroupReq  Opcode = 0x10
	OpWriteReq        Opcode = 0x12
	OpWriteRsp        Opcode = 0x13
	OpPrepareWriteReq Opcode = 0x16
	OpExecuteWriteReq Opcode = 0x18
	OpNotification    Opcode = 0x1B
	OpIndication      Opcode = 0x1D
	OpConfirmation    Opcode = 0x1E
	OpWriteCmd        Opcode = 0x52
	OpSignedWriteCmd  Opcode = 0xD2
	commandFlag       Opcode = 0x40
	minimumMTU               = 23
)

var opcodeNames = map[Opcode]string{
	OpErrorRsp:        "error-rsp",
	OpExchangeMTUReq:  "exchange-mtu-req",
	OpExchangeMTURsp:  "exchange-mtu-rsp",
	OpFindInfoReq:     "find-info-req",
	OpFindByTypeReq:   "find-by-type-value-req",
	OpReadByTypeReq:   "read-by-type-req",
	OpReadByTypeRsp:   "read-by-type-rsp",
	OpReadReq:         "read-req",
	OpReadRsp:         "read-rsp",
	OpReadBlobReq:     "read-blob-req",
	OpReadBlobRsp:     "read-blob-rsp",
	OpReadMultipleReq: "read-multiple-req",
	OpReadByGroupReq:  "read-by-group-type-req",
	OpWriteReq:        "write-req",
	OpWriteRsp:        "write-rsp",
	OpPrepareWriteReq: "prepare-write-req",
	OpExecuteWriteReq: "execute-write-req",
	OpNotification:    "handle-value-ntf",
	OpIndication:      "handle-value-ind",
	OpConfirmation:    "handle-value-cfm",
	OpWriteCmd:        "write-cmd",
	OpSignedWriteCmd:  "signed-write-cmd",
}

func (o Opcode) String() string {
	if name, ok := opcodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("opcode(0x%02x)", byte(o))
}

// IsCommand reports whether the opcode expects no response.
func (o Opcode) IsCommand() bool {
	return o&commandFlag != 0
}
