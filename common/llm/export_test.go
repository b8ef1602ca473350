package llm

var Decode = decode
