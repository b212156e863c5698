package kafka

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/IBM/sarama"
)

// Producer 生产者
type Producer struct {
	asyncProducer sarama.AsyncProducer
}

// InitProducer 初始化生产者
func InitProducer(brokers []string) (*Producer, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	producer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, err
	}

	p := &Producer{asyncProducer: producer}
	go p.drainResults()
	return p, nil
}

// PublishMessage 将消息序列化为JSON后发送到指定Topic
// key 用于分区路由, 同一会话的消息落在同一分区以保证相对顺序
func (p *Producer) PublishMessage(topic, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %v", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}
	p.asyncProducer.Input() <- msg
	return nil
}

// drainResults 消费异步发送结果, 避免结果通道阻塞
func (p *Producer) drainResults() {
	for {
		select {
		case _, ok := <-p.asyncProducer.Successes():
			if !ok {
				return
			}
		case err, ok := <-p.asyncProducer.Errors():
			if !ok {
				return
			}
			if err != nil {
				log.Printf("kafka produce error: %v", err)
			}
		}
	}
}

// Close 关闭生产者
func (p *Producer) Close() error {
	return p.asyncProducer.Close()
}
